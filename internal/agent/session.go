package agent

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neotalk/edge-ai/internal/store"
	"github.com/neotalk/edge-ai/pkg/models"
)

// Session is one conversation's state.
type Session struct {
	ID           string            `json:"id"`
	StartedAt    time.Time         `json:"started_at"`
	LastActivity time.Time         `json:"last_activity"`
	MessageCount int               `json:"message_count"`
	History      []models.Message  `json:"history"`
	LlmReady     bool              `json:"llm_ready"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SessionManager owns per-session conversation state. Sessions are created
// on demand, touched on any activity, and persisted best-effort.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    *store.Store
	logger   *slog.Logger
	now      func() time.Time
}

// SessionOption configures the session manager.
type SessionOption func(*SessionManager)

// WithSessionLogger sets the manager logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionNow overrides the clock for tests.
func WithSessionNow(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewSessionManager creates a session manager over the store. Active
// sessions are reloaded from the messages_active table.
func NewSessionManager(st *store.Store, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		sessions: make(map[string]*Session),
		store:    st,
		logger:   slog.Default().With("component", "sessions"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.load()
	return m
}

func (m *SessionManager) load() {
	if m.store == nil {
		return
	}
	err := m.store.Iter(store.TableMessagesActive, func(key string, value []byte) error {
		var session Session
		if err := json.Unmarshal(value, &session); err != nil {
			m.logger.Warn("skipping corrupt session row", "key", key, "error", err)
			return nil
		}
		m.sessions[session.ID] = &session
		return nil
	})
	if err != nil {
		m.logger.Warn("session table scan failed", "error", err)
	}
}

// GetOrCreate returns the session, creating it on demand. An empty id gets
// a fresh UUID.
func (m *SessionManager) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[id]; ok {
		return session
	}
	now := m.now()
	session := &Session{
		ID:           id,
		StartedAt:    now,
		LastActivity: now,
		Metadata:     make(map[string]string),
	}
	m.sessions[id] = session
	m.persistLocked(session)
	return session
}

// Get returns an existing session.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Append records a message: the counter increments first, then the
// activity timestamp reflects the post-increment state.
func (m *SessionManager) Append(id string, msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	session.History = append(session.History, msg)
	session.MessageCount++
	session.LastActivity = m.now()
	m.persistLocked(session)
}

// SetLlmReady flags the session's backend readiness.
func (m *SessionManager) SetLlmReady(id string, ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[id]; ok {
		session.LlmReady = ready
		session.LastActivity = m.now()
		m.persistLocked(session)
	}
}

// History returns a copy of the session's messages.
func (m *SessionManager) History(id string) []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil
	}
	return append([]models.Message(nil), session.History...)
}

// Evict archives a session to messages_history and drops it from the
// active set. Retention policy is the caller's concern.
func (m *SessionManager) Evict(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return false
	}
	delete(m.sessions, id)
	if m.store == nil {
		return true
	}
	if data, err := json.Marshal(session); err == nil {
		if err := m.store.Insert(store.TableMessagesHistory, session.ID, data); err != nil {
			m.logger.Warn("session archive failed", "session", id, "error", err)
		}
	}
	if err := m.store.Remove(store.TableMessagesActive, id); err != nil {
		m.logger.Warn("session removal failed", "session", id, "error", err)
	}
	return true
}

// ListSessions returns all active session ids.
func (m *SessionManager) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// persistLocked writes the session best-effort; failures are logged only.
func (m *SessionManager) persistLocked(session *Session) {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		m.logger.Warn("session marshal failed", "session", session.ID, "error", err)
		return
	}
	if err := m.store.Insert(store.TableMessagesActive, session.ID, data); err != nil {
		m.logger.Warn("session persist failed", "session", session.ID, "error", err)
	}
}
