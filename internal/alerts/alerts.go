// Package alerts creates and fans out platform alerts. Delivery transports
// (SMTP, webhooks) are collaborators behind the Sender interface.
package alerts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neotalk/edge-ai/internal/bus"
	"github.com/neotalk/edge-ai/internal/store"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one raised alert.
type Alert struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	Resolved  bool      `json:"resolved"`
}

// Sender delivers an alert over one transport. Long-running sends must
// honor ctx.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager creates alerts, persists them, publishes them on the bus, and
// dispatches them to registered senders.
type Manager struct {
	mu      sync.RWMutex
	senders []Sender
	store   *store.Store
	bus     *bus.Bus
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates an alert manager.
func NewManager(st *store.Store, b *bus.Bus, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		bus:    b,
		logger: slog.Default().With("component", "alerts"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddSender registers a delivery transport.
func (m *Manager) AddSender(sender Sender) {
	m.mu.Lock()
	m.senders = append(m.senders, sender)
	m.mu.Unlock()
}

// Create raises an alert: persisted, published, and dispatched. Sender
// failures are logged, never fatal.
func (m *Manager) Create(ctx context.Context, message string, severity Severity, source string) (Alert, error) {
	if severity == "" {
		severity = SeverityInfo
	}
	alert := Alert{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		Source:    source,
		CreatedAt: m.now(),
	}

	if m.store != nil {
		data, err := json.Marshal(alert)
		if err != nil {
			return Alert{}, err
		}
		if err := m.store.Insert(store.TableEvents, "alert:"+alert.ID, data); err != nil {
			return Alert{}, err
		}
	}
	if m.bus != nil {
		m.bus.Publish(bus.EventAlertCreated, source, alert)
	}

	m.mu.RLock()
	senders := append([]Sender(nil), m.senders...)
	m.mu.RUnlock()
	for _, sender := range senders {
		if err := sender.Send(ctx, alert); err != nil {
			m.logger.Warn("alert delivery failed", "alert", alert.ID, "error", err)
		}
	}
	return alert, nil
}
