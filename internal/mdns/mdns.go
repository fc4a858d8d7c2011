// Package mdns provides optional mDNS/DNS-SD advertisement of the debug
// service so tools on the local network can find a host without typing its
// address.
//
// The advertisement carries:
//   - Service type: _devlink._tcp
//   - TXT records with the host version, display name and relay port
//
// Discovery only reveals presence; the block list still applies.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for devlink hosts.
const ServiceType = "_devlink._tcp"

// Domain is the mDNS browsing domain.
const Domain = "local."

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the debug service TCP port.
	Port int

	// Version is the host version string.
	Version string

	// Name is a human-readable name for this host.
	// Defaults to the system hostname if empty.
	Name string

	// RelayPort is the UDP control relay port, 0 if disabled.
	RelayPort int
}

// Advertiser manages the DNS-SD registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser for cfg.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{
		config: cfg,
	}
}

// Start registers the service. Calling Start on a running advertiser is a
// no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := instanceName(a.config.Name)
	server, err := zeroconf.Register(
		name,
		ServiceType,
		Domain,
		a.config.Port,
		txtRecords(a.config, name),
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call more than once.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

func instanceName(name string) string {
	if name != "" {
		return name
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "devlink"
	}
	return hostname
}

// txtRecords builds the TXT strings. Each must stay under 255 bytes.
func txtRecords(cfg Config, name string) []string {
	records := []string{
		"version=" + cfg.Version,
		"name=" + name,
	}
	if cfg.RelayPort > 0 {
		records = append(records, "relay="+strconv.Itoa(cfg.RelayPort))
	}
	return records
}

// DiscoveredHost is a host found by Discover.
type DiscoveredHost struct {
	Name      string
	Host      string
	Port      int
	Version   string
	RelayPort int
}

// Addr returns host:port for dialing the debug service.
func (h DiscoveredHost) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

func hostFromEntry(entry *zeroconf.ServiceEntry) DiscoveredHost {
	host := DiscoveredHost{
		Name: entry.Instance,
		Port: entry.Port,
	}

	// Prefer IPv4.
	if len(entry.AddrIPv4) > 0 {
		host.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host.Host = "[" + entry.AddrIPv6[0].String() + "]"
	}

	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			host.Version = value
		case "name":
			host.Name = value
		case "relay":
			host.RelayPort, _ = strconv.Atoi(value)
		}
	}
	return host
}

// Discover browses for devlink hosts until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			mu.Lock()
			hosts = append(hosts, hostFromEntry(entry))
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes entries once ctx is done.
	wg.Wait()
	return hosts, nil
}
