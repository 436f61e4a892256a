// Package memory implements long-term memory storage with TTL expiry and
// keyword search.
package memory

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neotalk/edge-ai/internal/store"
	"github.com/neotalk/edge-ai/pkg/models"
)

// Store persists memory entries and keeps secondary indices in memory.
// The indices (by_type, by_keyword, active) are rebuilt on open by
// scanning the primary table; corrupt rows are skipped with a warning.
type Store struct {
	mu      sync.RWMutex
	backing *store.Store
	entries map[string]*models.MemoryEntry

	byType    map[string]map[string]bool
	byKeyword map[string]map[string]bool
	active    map[string]bool

	logger *slog.Logger
	now    func() time.Time
}

// Option configures the memory store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New opens the memory store over the backing database.
func New(backing *store.Store, opts ...Option) *Store {
	s := &Store{
		backing:   backing,
		entries:   make(map[string]*models.MemoryEntry),
		byType:    make(map[string]map[string]bool),
		byKeyword: make(map[string]map[string]bool),
		active:    make(map[string]bool),
		logger:    slog.Default().With("component", "memory"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rebuild()
	return s
}

func (s *Store) rebuild() {
	if s.backing == nil {
		return
	}
	err := s.backing.Iter(store.TableLlmMemory, func(key string, value []byte) error {
		var entry models.MemoryEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			s.logger.Warn("skipping corrupt memory row", "key", key, "error", err)
			return nil
		}
		s.entries[entry.ID] = &entry
		s.indexLocked(&entry)
		return nil
	})
	if err != nil {
		s.logger.Warn("memory table scan failed", "error", err)
	}
}

func (s *Store) indexLocked(entry *models.MemoryEntry) {
	if s.byType[entry.MemoryType] == nil {
		s.byType[entry.MemoryType] = make(map[string]bool)
	}
	s.byType[entry.MemoryType][entry.ID] = true
	for _, keyword := range entry.Keywords {
		k := strings.ToLower(keyword)
		if s.byKeyword[k] == nil {
			s.byKeyword[k] = make(map[string]bool)
		}
		s.byKeyword[k][entry.ID] = true
	}
	if !entry.Expired(s.now()) {
		s.active[entry.ID] = true
	}
}

func (s *Store) unindexLocked(entry *models.MemoryEntry) {
	if ids := s.byType[entry.MemoryType]; ids != nil {
		delete(ids, entry.ID)
	}
	for _, keyword := range entry.Keywords {
		if ids := s.byKeyword[strings.ToLower(keyword)]; ids != nil {
			delete(ids, entry.ID)
		}
	}
	delete(s.active, entry.ID)
}

// Save stores a memory entry, assigning an id and creation time as needed.
func (s *Store) Save(entry models.MemoryEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if entry.Importance < 0 {
		entry.Importance = 0
	}
	if entry.Importance > 100 {
		entry.Importance = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[entry.ID]; ok {
		s.unindexLocked(old)
	}
	s.entries[entry.ID] = &entry
	s.indexLocked(&entry)

	if s.backing != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return "", err
		}
		if err := s.backing.Insert(store.TableLlmMemory, entry.ID, data); err != nil {
			return "", err
		}
	}
	return entry.ID, nil
}

// Get returns an entry and records the access.
func (s *Store) Get(id string) (*models.MemoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || entry.Expired(s.now()) {
		return nil, false
	}
	entry.AccessCount++
	entry.LastAccessed = s.now()
	copied := *entry
	return &copied, true
}

// Delete removes an entry.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return false
	}
	s.unindexLocked(entry)
	delete(s.entries, id)
	if s.backing != nil {
		if err := s.backing.Remove(store.TableLlmMemory, id); err != nil {
			s.logger.Warn("memory removal failed", "id", id, "error", err)
		}
	}
	return true
}

// ByType returns non-expired entries of the given type.
func (s *Store) ByType(memoryType string) []models.MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var out []models.MemoryEntry
	for id := range s.byType[memoryType] {
		if entry := s.entries[id]; entry != nil && !entry.Expired(now) {
			out = append(out, *entry)
		}
	}
	return out
}

// Search ranks non-expired entries matching the query by keyword overlap,
// importance, and recency.
func (s *Store) Search(query string, limit int) []models.MemoryEntry {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()

	type scored struct {
		entry *models.MemoryEntry
		score float64
	}
	var candidates []scored
	for _, entry := range s.entries {
		if entry.Expired(now) {
			continue
		}
		score := 0.0
		content := strings.ToLower(entry.Content)
		for _, term := range terms {
			if strings.Contains(content, term) {
				score += 1
			}
			if s.byKeyword[term] != nil && s.byKeyword[term][entry.ID] {
				score += 2
			}
		}
		if score == 0 {
			continue
		}
		score += float64(entry.Importance) / 100
		age := now.Sub(entry.CreatedAt).Hours()
		if age < 24 {
			score += 0.5
		}
		candidates = append(candidates, scored{entry: entry, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]models.MemoryEntry, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, *c.entry)
	}
	return out
}

// PruneExpired deletes expired entries and returns how many were removed.
func (s *Store) PruneExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		if !entry.Expired(now) {
			continue
		}
		s.unindexLocked(entry)
		delete(s.entries, id)
		if s.backing != nil {
			if err := s.backing.Remove(store.TableLlmMemory, id); err != nil {
				s.logger.Warn("expired memory removal failed", "id", id, "error", err)
			}
		}
		removed++
	}
	return removed
}

// Count returns the number of stored entries, including expired entries
// that PruneExpired has not yet removed.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
