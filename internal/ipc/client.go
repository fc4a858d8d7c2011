package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/devlink/host/internal/server"
)

// ErrHostNotRunning is returned when nothing is serving the admin socket.
var ErrHostNotRunning = errors.New("host is not running")

// Client talks to a running host's admin socket.
type Client struct {
	path string
	http *http.Client
}

// NewClient creates a client for the socket at path.
func NewClient(path string) *Client {
	return &Client{
		path: path,
		http: &http.Client{
			Timeout: 2 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var dialer net.Dialer
					return dialer.DialContext(ctx, "unix", path)
				},
			},
		},
	}
}

// Block asks the host to block ip.
func (c *Client) Block(ctx context.Context, ip string) error {
	return c.postIP(ctx, "/block", ip)
}

// Unblock asks the host to unblock ip.
func (c *Client) Unblock(ctx context.Context, ip string) error {
	return c.postIP(ctx, "/unblock", ip)
}

// Sessions returns the host's live sessions.
func (c *Client) Sessions(ctx context.Context) ([]server.SessionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/sessions", nil)
	if err != nil {
		return nil, err
	}
	var sessions []server.SessionInfo
	if err := c.do(req, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) postIP(ctx context.Context, path, ip string) error {
	body, err := json.Marshal(IPRequest{IP: ip})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return ErrHostNotRunning
		}
		return fmt.Errorf("admin request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("admin request %s: status %d", req.URL.Path, resp.StatusCode)
		}
		return fmt.Errorf("admin request %s: %s", req.URL.Path, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
