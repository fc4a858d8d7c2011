package storage

import (
	"fmt"
	"log"
	"time"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 3

// initSchema creates the required tables if they don't exist.
// Uses IF NOT EXISTS to make the operation idempotent.
func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	if version < 3 {
		if err := s.migrateToV3(); err != nil {
			return fmt.Errorf("migrate to v3: %w", err)
		}
	}

	return nil
}

// migrateToV1 creates the devices and device_properties tables.
func (s *SQLiteStore) migrateToV1() error {
	log.Printf("storage: applying migration to schema version 1")

	// Timestamps are stored as RFC3339 strings for readability and portability.
	const tables = `
		CREATE TABLE IF NOT EXISTS devices (
			ip TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS device_properties (
			ip TEXT NOT NULL REFERENCES devices(ip) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (ip, key)
		);
	`

	if _, err := s.db.Exec(tables); err != nil {
		return fmt.Errorf("create device tables: %w", err)
	}

	return s.recordMigration(1)
}

// migrateToV2 adds the append-only chat_history table.
func (s *SQLiteStore) migrateToV2() error {
	log.Printf("storage: applying migration to schema version 2")

	// The autoincrement id is the append order; created_at alone can tie.
	const chatTable = `
		CREATE TABLE IF NOT EXISTS chat_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ip TEXT NOT NULL REFERENCES devices(ip) ON DELETE CASCADE,
			line TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chat_history_ip ON chat_history(ip, id);
	`

	if _, err := s.db.Exec(chatTable); err != nil {
		return fmt.Errorf("create chat_history table: %w", err)
	}

	return s.recordMigration(2)
}

// migrateToV3 adds the sessions table (one row per debug session).
func (s *SQLiteStore) migrateToV3() error {
	log.Printf("storage: applying migration to schema version 3")

	const sessionsTable = `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			ip TEXT NOT NULL REFERENCES devices(ip) ON DELETE CASCADE,
			name TEXT NOT NULL DEFAULT '',
			connected_at TEXT NOT NULL,
			closed_at TEXT,
			status TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_connected_at ON sessions(connected_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_ip ON sessions(ip);
	`

	if _, err := s.db.Exec(sessionsTable); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	return s.recordMigration(3)
}

func (s *SQLiteStore) recordMigration(version int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}
