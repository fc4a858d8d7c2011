// Package device models remote peers of the debug service.
//
// A Device is identified by its IP address. Its display name, blocked flag
// and chat history live in the device store; the in-memory Device is a thin
// handle that reads the store lazily so that changes made by the command
// executor are visible to the next chat line without any cache invalidation.
package device

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/devlink/host/internal/storage"
)

// MaxNameLength bounds registered display names.
const MaxNameLength = 32

// Store is the device store contract required by the debug service.
// *storage.SQLiteStore satisfies it.
type Store interface {
	AddDeviceIfAbsent(ip string) (bool, error)
	GetProperty(ip, key string) (string, bool, error)
	SetProperty(ip, key, value string) error
	AppendChat(ip, line string, at time.Time) (int64, error)
	ChatHistory(ip string, limit int) ([]storage.ChatEntry, error)
}

// Lister enumerates persisted devices for startup loading.
type Lister interface {
	ListDevices() ([]*storage.Device, error)
}

// Device is a remote peer keyed by IP.
type Device struct {
	ip     string
	store  Store
	logger *log.Logger

	// appendMu keeps one device's history appends in call order.
	appendMu sync.Mutex
}

// IP returns the device's identity key.
func (d *Device) IP() string {
	return d.ip
}

// DisplayName returns the registered name, or "" if none is known.
// Store errors are logged and treated as "no name".
func (d *Device) DisplayName() string {
	name, ok, err := d.store.GetProperty(d.ip, storage.PropName)
	if err != nil {
		d.logger.Printf("device: read name for %s: %v", d.ip, err)
		return ""
	}
	if !ok {
		return ""
	}
	return name
}

// SetDisplayName validates and stores a new display name.
func (d *Device) SetDisplayName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := d.store.SetProperty(d.ip, storage.PropName, name); err != nil {
		return fmt.Errorf("set name for %s: %w", d.ip, err)
	}
	return nil
}

// AppendChat records a chat line with the given timestamp.
func (d *Device) AppendChat(line string, at time.Time) error {
	d.appendMu.Lock()
	defer d.appendMu.Unlock()

	if _, err := d.store.AppendChat(d.ip, line, at); err != nil {
		return fmt.Errorf("append chat for %s: %w", d.ip, err)
	}
	return nil
}

// Touch records that the device was seen at t. Stores that do not track
// last-seen times are ignored.
func (d *Device) Touch(t time.Time) {
	toucher, ok := d.store.(interface {
		TouchDevice(ip string, t time.Time) error
	})
	if !ok {
		return
	}
	if err := toucher.TouchDevice(d.ip, t); err != nil {
		d.logger.Printf("device: touch %s: %v", d.ip, err)
	}
}

// History returns up to limit of the most recent chat entries (all if limit <= 0).
func (d *Device) History(limit int) ([]storage.ChatEntry, error) {
	return d.store.ChatHistory(d.ip, limit)
}

// ErrInvalidName is returned by ValidateName.
var ErrInvalidName = errors.New("invalid display name")

// ValidateName checks a display name: 1..MaxNameLength printable
// characters, no whitespace.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len([]rune(name)) > MaxNameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	if strings.IndexFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}) >= 0 {
		return fmt.Errorf("%w: must be printable and contain no spaces", ErrInvalidName)
	}
	return nil
}

// Registry holds the Device handles known to this process.
// It is safe for concurrent use.
type Registry struct {
	store  Store
	logger *log.Logger

	mu      sync.Mutex
	devices map[string]*Device
}

// NewRegistry creates an empty registry backed by store.
// If logger is nil, logs are discarded.
func NewRegistry(store Store, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		store:   store,
		logger:  logger,
		devices: make(map[string]*Device),
	}
}

// Load registers handles for every persisted device.
func (r *Registry) Load(l Lister) (int, error) {
	records, err := l.ListDevices()
	if err != nil {
		return 0, fmt.Errorf("load devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if _, ok := r.devices[rec.IP]; !ok {
			r.devices[rec.IP] = r.newDevice(rec.IP)
		}
	}
	return len(records), nil
}

// GetOrCreate returns the Device for ip, creating the store record on first use.
func (r *Registry) GetOrCreate(ip string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[ip]; ok {
		return d, nil
	}

	created, err := r.store.AddDeviceIfAbsent(ip)
	if err != nil {
		return nil, fmt.Errorf("create device %s: %w", ip, err)
	}
	if created {
		r.logger.Printf("device: new device %s", ip)
	}

	d := r.newDevice(ip)
	r.devices[ip] = d
	return d, nil
}

// Lookup returns the Device for ip if this process knows it.
func (r *Registry) Lookup(ip string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[ip]
	return d, ok
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func (r *Registry) newDevice(ip string) *Device {
	return &Device{ip: ip, store: r.store, logger: r.logger}
}
