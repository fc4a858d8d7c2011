// Package storage persists devices, their properties, chat history and the
// debug session log in SQLite. Devices are keyed by IP and carry string
// properties (display name, blocked flag) plus an append-only chat log.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

// ErrDeviceNotFound is returned when an operation targets an unknown IP.
var ErrDeviceNotFound = errors.New("device not found")

// Property keys understood by the debug service.
const (
	// PropName holds the registered display name.
	PropName = "name"

	// PropBlocked is "true" for block-listed devices.
	PropBlocked = "blocked"
)

// SQLiteStore is the SQLite-backed device store.
// It creates the database and tables on first use and supports
// concurrent access through internal locking.
type SQLiteStore struct {
	db *sql.DB      // Database connection handle.
	mu sync.RWMutex // Guards all database operations for thread safety.
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// It initializes the schema if the tables don't exist.
// Use ":memory:" for an in-memory database (useful for testing).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log.Printf("storage: opening database at %s", path)

	// Foreign keys cascade property and history rows when a device is deleted.
	// busy_timeout covers the CLI and a running host touching the same file.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Printf("storage: database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	log.Printf("storage: closing database")
	return s.db.Close()
}
