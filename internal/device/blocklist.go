package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/devlink/host/internal/storage"
)

// PropertyStore persists the blocked flag. It may be nil for an in-memory list.
type PropertyStore interface {
	SetProperty(ip, key, value string) error
}

// BlockList is the set of IPs denied session establishment.
// It is consulted once per accepted connection; changes do not affect
// sessions that are already live.
type BlockList struct {
	store PropertyStore

	mu  sync.RWMutex
	ips map[string]struct{}
}

// NewBlockList creates an empty block list. Mutations are persisted through
// store when it is non-nil.
func NewBlockList(store PropertyStore) *BlockList {
	return &BlockList{
		store: store,
		ips:   make(map[string]struct{}),
	}
}

// Load seeds the list without persisting (used at startup).
func (b *BlockList) Load(ips []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ip := range ips {
		b.ips[ip] = struct{}{}
	}
}

// IsBlocked reports whether ip is on the list.
func (b *BlockList) IsBlocked(ip string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ips[ip]
	return ok
}

// Block adds ip to the list and persists the flag.
func (b *BlockList) Block(ip string) error {
	return b.set(ip, true)
}

// Unblock removes ip from the list and persists the flag.
func (b *BlockList) Unblock(ip string) error {
	return b.set(ip, false)
}

func (b *BlockList) set(ip string, blocked bool) error {
	if ip == "" {
		return fmt.Errorf("block list: empty ip")
	}

	// Persist first so a store failure leaves memory and disk in agreement.
	if b.store != nil {
		if err := b.store.SetProperty(ip, storage.PropBlocked, fmt.Sprintf("%t", blocked)); err != nil {
			return fmt.Errorf("persist blocked flag for %s: %w", ip, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if blocked {
		b.ips[ip] = struct{}{}
	} else {
		delete(b.ips, ip)
	}
	return nil
}

// List returns the blocked IPs in sorted order.
func (b *BlockList) List() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ips := make([]string, 0, len(b.ips))
	for ip := range b.ips {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}
