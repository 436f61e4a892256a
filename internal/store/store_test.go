package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/neotalk/edge-ai/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertGetRemove(t *testing.T) {
	s := openTestStore(t)

	if err := s.Insert(TableDevices, "dev-1", []byte(`{"id":"dev-1"}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	value, err := s.Get(TableDevices, "dev-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != `{"id":"dev-1"}` {
		t.Errorf("unexpected value %q", value)
	}

	if err := s.Remove(TableDevices, "dev-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Get(TableDevices, "dev-1"); !IsNotFound(err) {
		t.Errorf("expected not-found after remove, got %v", err)
	}
}

func TestOpenExistingPreservesData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Insert(TableUsers, "alice", []byte("x")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.Get(TableUsers, "alice"); err != nil {
		t.Errorf("data lost across reopen: %v", err)
	}
}

func TestIterOrder(t *testing.T) {
	s := openTestStore(t)
	for _, k := range []string{"c", "a", "b"} {
		if err := s.Insert(TableEvents, k, []byte(k)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	var keys []string
	if err := s.Iter(TableEvents, func(k string, _ []byte) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		t.Fatalf("iter: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("iter order %v, want %v", keys, want)
		}
	}
}

func TestTelemetryRangeAndLatest(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		point := models.TelemetryPoint{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Value:     float64(i * 10),
		}
		if err := s.WriteTelemetry("sensor", "temperature", point); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	points, err := s.QueryTelemetry("sensor", "temperature", base.Add(time.Second), base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("range query returned %d points, want 3", len(points))
	}
	if points[0].Value != 10 || points[2].Value != 30 {
		t.Errorf("range values wrong: first %v last %v", points[0].Value, points[2].Value)
	}

	latest, err := s.LatestTelemetry("sensor", "temperature", 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 || latest[0].Value != 40 || latest[1].Value != 30 {
		t.Errorf("latest wrong: %+v", latest)
	}

	v, ok := s.LatestValue("sensor", "temperature")
	if !ok || v != 40 {
		t.Errorf("LatestValue = %v, %v; want 40, true", v, ok)
	}
}

func TestTelemetryDuplicateTimestamps(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		point := models.TelemetryPoint{Timestamp: ts, Value: float64(i)}
		if err := s.WriteTelemetry("sensor", "humidity", point); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	points, err := s.QueryTelemetry("sensor", "humidity", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want all 3 duplicates", len(points))
	}
	// Insertion order within the same timestamp.
	for i, p := range points {
		if p.Value != float64(i) {
			t.Errorf("point %d value %v, want %d", i, p.Value, i)
		}
	}
}

func TestSeriesIsolation(t *testing.T) {
	s := openTestStore(t)
	ts := time.Now()
	if err := s.WriteTelemetry("a", "m", models.TelemetryPoint{Timestamp: ts, Value: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteTelemetry("a", "m2", models.TelemetryPoint{Timestamp: ts, Value: 2}); err != nil {
		t.Fatal(err)
	}
	points, err := s.QueryTelemetry("a", "m", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 || points[0].Value != 1 {
		t.Errorf("series leak: %+v", points)
	}
}
