package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Store is the local record store: namespaced string keys mapped to string
// values in a single SQLite table. Concurrent writers are not coordinated;
// last write wins.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the record store at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	// A single connection keeps writes serialized and works for :memory:.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the value for key and whether the record exists. A missing key
// is not an error; callers supply their own defaults.
func (s *Store) Get(key string) (string, bool) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM records WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		log.Printf("store: get %s: %v", key, err)
		return "", false
	}
	return v, true
}

// Set writes value under key, replacing any previous value.
func (s *Store) Set(key, value string) {
	if _, err := s.db.Exec(`INSERT INTO records (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		log.Printf("store: set %s: %v", key, err)
	}
}

// Remove deletes the record for key. Removing a missing key is a no-op.
func (s *Store) Remove(key string) {
	if _, err := s.db.Exec(`DELETE FROM records WHERE key = ?`, key); err != nil {
		log.Printf("store: remove %s: %v", key, err)
	}
}
