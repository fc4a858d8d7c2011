package storage

// sessions.go records one row per debug session so operators can see who
// connected, when, and how the session ended.

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// maxSessions is the number of session rows retained.
// Older rows are deleted when this limit is exceeded.
const maxSessions = 500

// sessionTimeLayout is fixed width so connected_at sorts as text.
// Times are stored in UTC.
const sessionTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SessionStatus is the state of a recorded debug session.
type SessionStatus string

const (
	// SessionStatusOpen means the device is connected.
	SessionStatusOpen SessionStatus = "open"

	// SessionStatusClosed means the session ended while the host was running.
	SessionStatusClosed SessionStatus = "closed"

	// SessionStatusAbandoned marks sessions still open when the host last
	// exited without closing them.
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// Session is one recorded debug session.
type Session struct {
	ID          string        `json:"id"`
	IP          string        `json:"ip"`
	Name        string        `json:"name,omitempty"`
	ConnectedAt time.Time     `json:"connected_at"`
	ClosedAt    time.Time     `json:"closed_at,omitempty"`
	Status      SessionStatus `json:"status"`
}

// SaveSession inserts or replaces a session row and enforces retention.
func (s *SQLiteStore) SaveSession(session *Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if session.ID == "" {
		return errors.New("session id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var closedAt sql.NullString
	if !session.ClosedAt.IsZero() {
		closedAt = sql.NullString{String: session.ClosedAt.UTC().Format(sessionTimeLayout), Valid: true}
	}

	const query = `
		INSERT OR REPLACE INTO sessions (id, ip, name, connected_at, closed_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		session.ID,
		session.IP,
		session.Name,
		session.ConnectedAt.UTC().Format(sessionTimeLayout),
		closedAt,
		string(session.Status),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	const cleanupQuery = `
		DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions ORDER BY connected_at DESC LIMIT -1 OFFSET ?
		)
	`
	if _, err := s.db.Exec(cleanupQuery, maxSessions); err != nil {
		return fmt.Errorf("enforce session retention: %w", err)
	}
	return nil
}

// CloseSession marks a session closed at t. Unknown IDs are ignored.
func (s *SQLiteStore) CloseSession(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE sessions SET closed_at = ?, status = ? WHERE id = ?`
	if _, err := s.db.Exec(query, t.UTC().Format(sessionTimeLayout), string(SessionStatusClosed), id); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// AbandonOpenSessions marks every open session abandoned at t and returns
// how many there were. Called at startup, when no session can be live.
func (s *SQLiteStore) AbandonOpenSessions(t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE sessions SET closed_at = ?, status = ? WHERE status = ?`
	result, err := s.db.Exec(query, t.UTC().Format(sessionTimeLayout), string(SessionStatusAbandoned), string(SessionStatusOpen))
	if err != nil {
		return 0, fmt.Errorf("abandon open sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("abandon open sessions: %w", err)
	}
	return int(n), nil
}

// GetSession retrieves a session by ID.
// Returns nil, nil if the session does not exist.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, ip, name, connected_at, closed_at, status
		FROM sessions
		WHERE id = ?
	`
	session, err := scanSession(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns recent sessions, newest first. An ip other than ""
// restricts the list to one device. limit <= 0 selects the retention limit.
func (s *SQLiteStore) ListSessions(ip string, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = maxSessions
	}

	const query = `
		SELECT id, ip, name, connected_at, closed_at, status
		FROM sessions
		WHERE ? = '' OR ip = ?
		ORDER BY connected_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, ip, ip, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session     Session
		connectedAt string
		closedAt    sql.NullString
		status      string
	)
	if err := row.Scan(&session.ID, &session.IP, &session.Name, &connectedAt, &closedAt, &status); err != nil {
		return nil, err
	}

	t, err := time.Parse(sessionTimeLayout, connectedAt)
	if err != nil {
		return nil, fmt.Errorf("parse connected_at: %w", err)
	}
	session.ConnectedAt = t

	if closedAt.Valid {
		t, err := time.Parse(sessionTimeLayout, closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse closed_at: %w", err)
		}
		session.ClosedAt = t
	}

	session.Status = SessionStatus(status)
	return &session, nil
}
