// Package store persists platform state in an embedded B-tree database.
//
// The store exposes named tables with string keys and opaque byte values.
// Writes are transactional per table operation; cross-table atomicity is not
// promised. Opening a path that does not exist creates the database and all
// declared tables; an existing database is opened without destroying data.
package store

import (
	"errors"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Declared tables. Secondary indices are rebuilt in memory on open by the
// packages that own them.
const (
	TableUsers           = "users"
	TableMessages        = "messages"
	TableMessagesHistory = "messages_history"
	TableMessagesActive  = "messages_active"
	TableLlmMemory       = "llm_memory"
	TableLlmBackends     = "llm_backends"
	TableDevices         = "devices"
	TableTelemetry       = "telemetry"
	TableAutomations     = "automations"
	TableDecisions       = "decisions"
	TableEvents          = "events"
	TableWorkflows       = "workflows"
)

// Tables lists every table created at open time.
var Tables = []string{
	TableUsers,
	TableMessages,
	TableMessagesHistory,
	TableMessagesActive,
	TableLlmMemory,
	TableLlmBackends,
	TableDevices,
	TableTelemetry,
	TableAutomations,
	TableDecisions,
	TableEvents,
	TableWorkflows,
}

// Store is an embedded key-value database with named tables.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens (or creates) the database at path and ensures all declared
// tables exist.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, ioErr("", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, table := range Tables {
			if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, ioErr("", err)
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert writes (or overwrites) key in table.
func (s *Store) Insert(table, key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return errors.New("no such table")
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return ioErr(table, err)
	}
	return nil
}

// Get returns the value stored under key in table.
func (s *Store) Get(table, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return errors.New("no such table")
		}
		v := b.Get([]byte(key))
		if v == nil {
			return notFound(table, key)
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		var se *StoreError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, ioErr(table, err)
	}
	return value, nil
}

// Remove deletes key from table. Removing a missing key is not an error.
func (s *Store) Remove(table, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return errors.New("no such table")
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return ioErr(table, err)
	}
	return nil
}

// Iter visits every (key, value) pair in table in key order. Returning an
// error from fn stops the iteration and is returned to the caller.
func (s *Store) Iter(table string, fn func(key string, value []byte) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return errors.New("no such table")
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
	if err != nil {
		return ioErr(table, err)
	}
	return nil
}

// Count returns the number of keys in table.
func (s *Store) Count(table string) (int, error) {
	n := 0
	err := s.Iter(table, func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}

// Commit flushes pending writes to disk. Individual operations already
// commit their own transaction; this forces an fsync for callers that need
// a durability barrier.
func (s *Store) Commit() error {
	if err := s.db.Sync(); err != nil {
		return ioErr("", err)
	}
	return nil
}
