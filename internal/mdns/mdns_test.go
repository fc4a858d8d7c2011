package mdns

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestNewAdvertiser(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 7075, Version: "1.0.0", Name: "test-host"})
	if advertiser == nil {
		t.Fatal("NewAdvertiser returned nil")
	}
	if advertiser.config.Port != 7075 {
		t.Errorf("expected port 7075, got %d", advertiser.config.Port)
	}
	if advertiser.IsRunning() {
		t.Error("advertiser should not be running before Start()")
	}
}

func TestAdvertiserMultipleStops(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 7075})

	advertiser.Stop()
	advertiser.Stop()

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

func TestTXTRecords(t *testing.T) {
	got := txtRecords(Config{Version: "1.4.0", RelayPort: 7077}, "lab-pc")
	want := []string{"version=1.4.0", "name=lab-pc", "relay=7077"}
	if len(got) != len(want) {
		t.Fatalf("txtRecords() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("txtRecords()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := txtRecords(Config{Version: "1.4.0"}, "lab-pc"); len(got) != 2 {
		t.Errorf("relay record should be omitted when disabled, got %v", got)
	}
}

func TestInstanceName(t *testing.T) {
	if got := instanceName("bench"); got != "bench" {
		t.Errorf("instanceName(bench) = %q", got)
	}
	hostname, err := os.Hostname()
	if err == nil && instanceName("") != hostname {
		t.Errorf("instanceName(\"\") = %q, want hostname %q", instanceName(""), hostname)
	}
}

func TestHostFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("instance", ServiceType, Domain)
	entry.Port = 7075
	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}
	entry.Text = []string{"version=2.1.0", "name=lab-pc", "relay=7077", "garbage"}

	host := hostFromEntry(entry)
	if host.Name != "lab-pc" || host.Version != "2.1.0" || host.RelayPort != 7077 {
		t.Errorf("hostFromEntry() = %+v", host)
	}
	if host.Addr() != "192.168.1.20:7075" {
		t.Errorf("Addr() = %q", host.Addr())
	}

	entry.AddrIPv4 = nil
	entry.AddrIPv6 = []net.IP{net.IPv6loopback}
	if got := hostFromEntry(entry).Addr(); got != "[::1]:7075" {
		t.Errorf("IPv6 Addr() = %q", got)
	}
}

// TestDiscoverIntegration needs multicast networking; opt in with
// DEVLINK_MDNS_TEST=1.
func TestDiscoverIntegration(t *testing.T) {
	if os.Getenv("DEVLINK_MDNS_TEST") == "" {
		t.Skip("set DEVLINK_MDNS_TEST=1 to run mDNS network tests")
	}

	advertiser := NewAdvertiser(Config{Port: 7175, Version: "test", Name: "discover-test-host"})
	if err := advertiser.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer advertiser.Stop()

	if err := advertiser.Start(); err != nil {
		t.Fatalf("second Start() should be a no-op, got %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hosts, err := Discover(ctx)
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	for _, host := range hosts {
		if host.Name == "discover-test-host" {
			if host.Port != 7175 {
				t.Errorf("expected port 7175, got %d", host.Port)
			}
			return
		}
	}
	t.Log("test host not discovered; mDNS can be unreliable on CI networks")
}
