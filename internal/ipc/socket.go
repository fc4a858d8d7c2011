// Package ipc exposes the running host's admin API over a Unix socket with
// restrictive filesystem permissions. The devlink CLI uses it to change the
// block list of a live host.
package ipc

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SocketServer serves an HTTP handler on a Unix socket.
type SocketServer struct {
	path     string
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	logger   *log.Logger

	// mu guards start/stop operations.
	mu sync.Mutex
}

// NewSocketServer creates a server for the given socket path.
// If logger is nil, logs are discarded.
func NewSocketServer(path string, handler http.Handler, logger *log.Logger) *SocketServer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &SocketServer{
		path:    path,
		handler: handler,
		logger:  logger,
	}
}

// Path returns the socket path.
func (s *SocketServer) Path() string {
	return s.path
}

// Start listens on the socket. Stale socket files are removed, but Start
// fails if another process is serving the path.
func (s *SocketServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("admin socket already started")
	}
	if s.path == "" {
		return fmt.Errorf("admin socket path is empty")
	}
	if err := validateSocketPath(s.path); err != nil {
		return err
	}
	if s.handler == nil {
		return fmt.Errorf("admin socket handler is nil")
	}

	if err := s.prepareSocketDir(); err != nil {
		return err
	}
	if err := s.ensureSocketAvailable(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on admin socket: %w", err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		_ = os.Remove(s.path)
		return fmt.Errorf("failed to set admin socket permissions: %w", err)
	}

	s.listener = listener
	s.server = &http.Server{Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		err := s.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("ipc: admin socket stopped: %v", err)
		}
	}()

	s.logger.Printf("ipc: admin socket listening on %s", s.path)
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *SocketServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	var stopErr error
	if err := s.server.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stopErr = fmt.Errorf("failed to stop admin socket: %w", err)
	}
	_ = s.listener.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && stopErr == nil {
		stopErr = fmt.Errorf("failed to remove admin socket: %w", err)
	}

	s.server = nil
	s.listener = nil
	return stopErr
}

func (s *SocketServer) prepareSocketDir() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create admin socket directory: %w", err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return fmt.Errorf("failed to set admin socket directory permissions: %w", err)
	}
	return nil
}

func (s *SocketServer) ensureSocketAvailable() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat admin socket: %w", err)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("admin socket path is not a socket: %s", s.path)
	}

	conn, err := net.DialTimeout("unix", s.path, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("admin socket already in use: %s", s.path)
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("permission denied accessing admin socket: %w", err)
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale admin socket: %w", err)
	}
	return nil
}
