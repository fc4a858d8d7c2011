package relay

import (
	"fmt"
	"net"
)

// Request names understood by the host.
const (
	RequestPing    = "Ping"
	RequestStart   = "Start"
	RequestStop    = "Stop"
	RequestBlock   = "Block"
	RequestUnblock = "Unblock"
)

// Controller is the part of the host the relay can drive.
type Controller interface {
	StartListener() error
	StopListener() error
	Block(ip string) error
	Unblock(ip string) error
}

// ControlHandlers returns the standard request table bound to c.
func ControlHandlers(c Controller) map[string]Handler {
	return map[string]Handler{
		RequestPing: func(string, net.Addr) error { return nil },
		RequestStart: func(string, net.Addr) error {
			return c.StartListener()
		},
		RequestStop: func(string, net.Addr) error {
			return c.StopListener()
		},
		RequestBlock: func(arg string, _ net.Addr) error {
			ip, err := parseIP(arg)
			if err != nil {
				return err
			}
			return c.Block(ip)
		},
		RequestUnblock: func(arg string, _ net.Addr) error {
			ip, err := parseIP(arg)
			if err != nil {
				return err
			}
			return c.Unblock(ip)
		},
	}
}

func parseIP(s string) (string, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return "", fmt.Errorf("invalid ip %q", s)
	}
	return ip.String(), nil
}
