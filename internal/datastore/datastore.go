// Package datastore is the dataManager persistence adapter. Named
// collections (spaces, documents, userActivity_<id>, ...) are stored as JSON
// values in a single SQLite database so writes are atomic per collection.
package datastore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/beaglenote/wikidex/internal/debug"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store provides named-collection persistence. Safe for concurrent use;
// writes to the same collection are serialized by SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; readers go straight to the pool
}

// Open creates the backing database (and its directory) if missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database %s: %w", path, err)
	}

	debug.LogStore("opened collection database at %s", path)
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Read unmarshals the named collection into v. Returns false when the
// collection has never been written.
func (s *Store) Read(name string, v interface{}) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM collections WHERE name = ?`, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read collection %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode collection %s: %w", name, err)
	}
	return true, nil
}

// Write marshals v and upserts it as the named collection.
func (s *Store) Write(name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode collection %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO collections (name, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write collection %s: %w", name, err)
	}
	return nil
}

// Delete removes the named collection. Deleting a missing collection is a
// no-op.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}

// List returns the names of all stored collections, for diagnostics.
func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Collection name helpers keep the persistence layout in one place.

func ActivityCollection(userID string) string    { return "userActivity_" + userID }
func PreferencesCollection(userID string) string { return "userPreferences_" + userID }
func AISettingsCollection(userID string) string  { return "aiSettings_" + userID }

const (
	SpacesCollection    = "spaces"
	DocumentsCollection = "documents"
)
