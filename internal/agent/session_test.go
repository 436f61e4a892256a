package agent

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/neotalk/edge-ai/internal/store"
	"github.com/neotalk/edge-ai/pkg/models"
)

func newTestSessions(t *testing.T) (*SessionManager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSessionManager(st), st
}

func TestGetOrCreate(t *testing.T) {
	m, _ := newTestSessions(t)
	s1 := m.GetOrCreate("abc")
	s2 := m.GetOrCreate("abc")
	if s1 != s2 {
		t.Error("same id must return the same session")
	}
	fresh := m.GetOrCreate("")
	if fresh.ID == "" {
		t.Error("empty id must get a generated UUID")
	}
}

func TestAppendIncrementsThenTouches(t *testing.T) {
	current := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	m := NewSessionManager(nil, WithSessionNow(func() time.Time { return current }))
	s := m.GetOrCreate("s")

	current = current.Add(time.Minute)
	m.Append("s", models.Message{Role: models.RoleUser, Content: "hi"})

	if s.MessageCount != 1 {
		t.Errorf("count = %d", s.MessageCount)
	}
	// The activity timestamp reflects the post-increment state.
	if !s.LastActivity.Equal(current) {
		t.Errorf("last activity = %v, want %v", s.LastActivity, current)
	}
}

func TestSessionPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	m := NewSessionManager(st)
	m.GetOrCreate("persisted")
	m.Append("persisted", models.Message{Role: models.RoleUser, Content: "remember me"})
	st.Close()

	st2, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	m2 := NewSessionManager(st2)
	history := m2.History("persisted")
	if len(history) != 1 || history[0].Content != "remember me" {
		t.Errorf("history = %+v", history)
	}
}

func TestEvictArchives(t *testing.T) {
	m, st := newTestSessions(t)
	m.GetOrCreate("bye")
	m.Append("bye", models.Message{Role: models.RoleUser, Content: "x"})

	if !m.Evict("bye") {
		t.Fatal("evict returned false")
	}
	if _, ok := m.Get("bye"); ok {
		t.Error("session still active after evict")
	}
	if _, err := st.Get(store.TableMessagesActive, "bye"); !store.IsNotFound(err) {
		t.Error("active row not removed")
	}
	if _, err := st.Get(store.TableMessagesHistory, "bye"); err != nil {
		t.Errorf("archive row missing: %v", err)
	}
}
