// Package main provides the devlink command line.
// This file centralizes address selection for what the host prints.
package main

import (
	"net"
	"strconv"
)

// connectAddress returns the address devices should dial to reach a host
// listening on listenHost:port. Wildcard hosts resolve to the Tailscale
// address if there is one, then the preferred LAN address, then loopback.
func connectAddress(listenHost string, port int) string {
	host := listenHost
	if isWildcardHost(host) {
		host = GetTailscaleIP()
		if host == "" {
			host = GetPreferredOutboundIP()
		}
		if host == "" {
			host = "127.0.0.1"
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func isWildcardHost(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}

// GetPreferredOutboundIP returns the IP address of the network interface
// that would be used for outbound connections.
// Returns empty string if the address cannot be determined.
func GetPreferredOutboundIP() string {
	// No packets are sent for UDP; this only asks the OS which local
	// interface it would route through.
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return localAddr.IP.String()
}

// tailscaleNet is the CGNAT range used by Tailscale (100.64.0.0/10).
var tailscaleNet = &net.IPNet{
	IP:   net.IPv4(100, 64, 0, 0),
	Mask: net.CIDRMask(10, 32),
}

// GetTailscaleIP scans network interfaces for a Tailscale IP address.
// Returns empty string if none is found.
func GetTailscaleIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip != nil && tailscaleNet.Contains(ip) {
				return ip.String()
			}
		}
	}
	return ""
}
