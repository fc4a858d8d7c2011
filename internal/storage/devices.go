package storage

// devices.go contains SQLiteStore methods for device records and properties.
// Devices are keyed by the remote IP address of the peer.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// Device is a persisted device record with its well-known properties resolved.
type Device struct {
	IP        string
	Name      string
	Blocked   bool
	CreatedAt time.Time
	LastSeen  time.Time
}

// AddDeviceIfAbsent creates a device record for ip if none exists.
// Returns true when a new record was created.
func (s *SQLiteStore) AddDeviceIfAbsent(ip string) (bool, error) {
	if ip == "" {
		return false, errors.New("device ip cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := addDeviceIfAbsent(s.db, ip, time.Now())
	if err != nil {
		return false, err
	}
	if created {
		log.Printf("storage: added device %s", ip)
	}
	return created, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func addDeviceIfAbsent(db execer, ip string, now time.Time) (bool, error) {
	const query = `
		INSERT OR IGNORE INTO devices (ip, created_at, last_seen)
		VALUES (?, ?, ?)
	`

	ts := now.Format(time.RFC3339Nano)
	result, err := db.Exec(query, ip, ts, ts)
	if err != nil {
		return false, fmt.Errorf("add device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// GetProperty returns the value stored under key for ip.
// ok is false when the device or the property does not exist.
func (s *SQLiteStore) GetProperty(ip, key string) (value string, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `SELECT value FROM device_properties WHERE ip = ? AND key = ?`

	err = s.db.QueryRow(query, ip, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get property %s: %w", key, err)
	}
	return value, true, nil
}

// SetProperty stores value under key for ip, creating the device if needed.
func (s *SQLiteStore) SetProperty(ip, key, value string) error {
	if ip == "" || key == "" {
		return errors.New("device ip and property key are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := addDeviceIfAbsent(tx, ip, now); err != nil {
		return err
	}

	const query = `
		INSERT INTO device_properties (ip, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ip, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := tx.Exec(query, ip, key, value, now.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("set property %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit property %s: %w", key, err)
	}
	return nil
}

// DeleteProperty removes key for ip. Missing properties are not an error.
func (s *SQLiteStore) DeleteProperty(ip, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM device_properties WHERE ip = ? AND key = ?", ip, key)
	if err != nil {
		return fmt.Errorf("delete property %s: %w", key, err)
	}
	return nil
}

// GetDevice retrieves a device by IP.
// Returns nil, nil if the device does not exist.
func (s *SQLiteStore) GetDevice(ip string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, err := scanDevice(s.db.QueryRow(deviceSelect+" WHERE d.ip = ?", ip))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return device, nil
}

// ListDevices returns all known devices, oldest first.
func (s *SQLiteStore) ListDevices() ([]*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(deviceSelect + " ORDER BY d.created_at ASC, d.ip ASC")
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device rows: %w", err)
	}

	return devices, nil
}

// ListBlocked returns the IPs whose blocked property is "true".
func (s *SQLiteStore) ListBlocked() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT ip FROM device_properties WHERE key = ? AND value = 'true' ORDER BY ip",
		PropBlocked,
	)
	if err != nil {
		return nil, fmt.Errorf("query blocked devices: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("scan blocked device: %w", err)
		}
		ips = append(ips, ip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocked rows: %w", err)
	}
	return ips, nil
}

// TouchDevice updates the last_seen timestamp for a device.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *SQLiteStore) TouchDevice(ip string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`UPDATE devices SET last_seen = ? WHERE ip = ?`, t.Format(time.RFC3339Nano), ip)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// DeleteDevice removes a device together with its properties and history.
// Returns nil if the device does not exist (idempotent delete).
func (s *SQLiteStore) DeleteDevice(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: deleting device %s", ip)

	if _, err := s.db.Exec("DELETE FROM devices WHERE ip = ?", ip); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	return nil
}

const deviceSelect = `
	SELECT d.ip, d.created_at, d.last_seen,
		COALESCE((SELECT value FROM device_properties p WHERE p.ip = d.ip AND p.key = 'name'), ''),
		COALESCE((SELECT value FROM device_properties p WHERE p.ip = d.ip AND p.key = 'blocked'), '')
	FROM devices d`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		device    Device
		createdAt string
		lastSeen  string
		blocked   string
	)

	if err := row.Scan(&device.IP, &createdAt, &lastSeen, &device.Name, &blocked); err != nil {
		return nil, err
	}
	device.Blocked = blocked == "true"

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	device.CreatedAt = t

	t, err = time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	device.LastSeen = t

	return &device, nil
}
