package models

import "time"

// MemoryEntry is a long-term memory record with optional TTL expiry.
type MemoryEntry struct {
	ID           string    `json:"id"`
	MemoryType   string    `json:"memory_type"`
	Content      string    `json:"content"`
	Source       string    `json:"source,omitempty"`
	Keywords     []string  `json:"keywords,omitempty"`
	Importance   int       `json:"importance"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed,omitempty"`
	AccessCount  int       `json:"access_count"`
	TTLSeconds   *int64    `json:"ttl_seconds,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
// Entries without a TTL never expire.
func (e *MemoryEntry) Expired(now time.Time) bool {
	if e.TTLSeconds == nil {
		return false
	}
	return now.Sub(e.CreatedAt) > time.Duration(*e.TTLSeconds)*time.Second
}
