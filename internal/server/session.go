package server

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/devlink/host/internal/device"
)

// Session is one connected device. It owns the transport and runs the
// message router on its own goroutine.
type Session struct {
	id          string
	ip          string
	device      *device.Device
	conn        net.Conn
	server      *Server
	connectedAt time.Time

	// writeMu serializes banner lines and command replies.
	writeMu   sync.Mutex
	closeOnce sync.Once

	opened   atomic.Bool
	finished atomic.Bool

	// errLimiter throttles transport error log lines.
	errLimiter *rate.Limiter
	suppressed int
}

func newSession(s *Server, dev *device.Device, conn net.Conn, id string) *Session {
	return &Session{
		id:          id,
		ip:          dev.IP(),
		device:      dev,
		conn:        conn,
		server:      s,
		connectedAt: time.Now(),
		errLimiter:  rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// IP returns the device address.
func (s *Session) IP() string {
	return s.ip
}

// Info returns a snapshot suitable for observers.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		IP:          s.ip,
		Name:        s.device.DisplayName(),
		ConnectedAt: s.connectedAt,
	}
}

// Send writes one line followed by the platform line terminator.
func (s *Session) Send(line string) error {
	return s.writeLines([]string{line})
}

func (s *Session) writeLines(lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString(LineTerminator)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("write to %s: %w", s.ip, err)
	}
	return nil
}

func (s *Session) closeTransport() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

// markFinished reports whether this call is the first to finish an opened
// session.
func (s *Session) markFinished() bool {
	return s.opened.Load() && s.finished.CompareAndSwap(false, true)
}

// run reads from the transport until it closes or stop is signalled.
// Every exit goes through finishSession.
func (s *Session) run(stop <-chan struct{}) {
	defer s.server.finishSession(s)
	defer func() {
		if r := recover(); r != nil {
			s.server.logger.Printf("server: session %s for %s panicked: %v", s.id, s.ip, r)
		}
	}()

	buf := make([]byte, MaxReadSize)
	for {
		if stopped(stop) {
			return
		}

		n, err := s.conn.Read(buf)
		if stopped(stop) {
			return
		}
		if n > 0 {
			s.route(buf[:n])
		}
		if err == nil {
			continue
		}

		if isDisconnect(err) {
			s.server.logger.Printf("server: %s disconnected", s.ip)
			return
		}

		s.logTransportError(err)
		select {
		case <-stop:
			return
		case <-time.After(PollInterval):
		}
	}
}

func (s *Session) logTransportError(err error) {
	if !s.errLimiter.Allow() {
		s.suppressed++
		return
	}
	detail := describeTransportError(err)
	if s.suppressed > 0 {
		detail = fmt.Sprintf("%s (%d similar errors suppressed)", detail, s.suppressed)
		s.suppressed = 0
	}
	s.server.logger.Printf("server: %s: %s", transportError(s.ip, err), detail)
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
