package storage

// chat.go contains the append-only per-device chat history.

import (
	"errors"
	"fmt"
	"time"
)

// ChatEntry is one recorded chat line.
type ChatEntry struct {
	ID   int64
	IP   string
	Line string
	At   time.Time
}

// AppendChat appends a line to the device's history, creating the device if
// it is unknown. The timestamp is supplied by the caller.
func (s *SQLiteStore) AppendChat(ip, line string, at time.Time) (int64, error) {
	if ip == "" {
		return 0, errors.New("device ip cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := addDeviceIfAbsent(tx, ip, at); err != nil {
		return 0, err
	}

	result, err := tx.Exec(
		"INSERT INTO chat_history (ip, line, created_at) VALUES (?, ?, ?)",
		ip, line, at.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("append chat: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("chat insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chat: %w", err)
	}
	return id, nil
}

// ChatHistory returns the last limit entries for ip in append order.
// A limit <= 0 returns the full history.
func (s *SQLiteStore) ChatHistory(ip string, limit int) ([]ChatEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Select newest-first so LIMIT keeps the tail, then restore order.
	query := `
		SELECT id, ip, line, created_at FROM (
			SELECT id, ip, line, created_at FROM chat_history
			WHERE ip = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(query, ip, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var entries []ChatEntry
	for rows.Next() {
		var (
			entry     ChatEntry
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.IP, &entry.Line, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat entry: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		entry.At = t
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return entries, nil
}

// ChatCount returns the number of history entries for ip.
func (s *SQLiteStore) ChatCount(ip string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chat_history WHERE ip = ?", ip).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chat history: %w", err)
	}
	return n, nil
}
