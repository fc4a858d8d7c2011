// Package relay implements the UDP control relay.
//
// A request is one datagram of the form "<Request:Name>(Argument)". The
// handler registered for Name runs and, if it succeeds, the sender gets
// "NameConfirm, Argument" back. Malformed and unknown requests are logged
// and never answered.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/devlink/host/internal/errors"
)

// MaxDatagramSize bounds a single request.
const MaxDatagramSize = 2048

// DefaultTimeout is used by Send when ctx has no deadline.
const DefaultTimeout = 2 * time.Second

var requestPattern = regexp.MustCompile(`^<Request:([A-Za-z][A-Za-z0-9_]*)>\((.*)\)$`)

// Handler runs one request. from is the sender's address.
type Handler func(argument string, from net.Addr) error

// ParseRequest splits a request datagram into its name and argument.
func ParseRequest(payload string) (name, argument string, err error) {
	m := requestPattern.FindStringSubmatch(strings.TrimSpace(payload))
	if m == nil {
		return "", "", apperrors.RelayMalformed(payload)
	}
	return m[1], m[2], nil
}

// FormatRequest renders a request datagram.
func FormatRequest(name, argument string) string {
	return fmt.Sprintf("<Request:%s>(%s)", name, argument)
}

// FormatConfirm renders the reply to a successful request.
func FormatConfirm(name, argument string) string {
	return fmt.Sprintf("%sConfirm, %s", name, argument)
}

// Server answers relay requests on a UDP socket.
type Server struct {
	handlers map[string]Handler
	logger   *log.Logger
	limiter  *rate.Limiter

	mu   sync.Mutex
	conn net.PacketConn
	done chan struct{}
}

// NewServer creates a relay with a fixed handler table.
// If logger is nil, logs are discarded.
func NewServer(handlers map[string]Handler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	table := make(map[string]Handler, len(handlers))
	for name, h := range handlers {
		table[name] = h
	}
	return &Server{
		handlers: table,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 10),
	}
}

// Start binds addr and serves requests in a goroutine.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return apperrors.New(apperrors.CodeRelayFailed, "relay already running on "+s.conn.LocalAddr().String())
	}

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRelayFailed, "failed to listen on "+addr, err)
	}
	s.conn = conn
	s.done = make(chan struct{})

	s.logger.Printf("relay: listening on %s", conn.LocalAddr())
	go s.serve(conn, s.done)
	return nil
}

// Addr returns the bound address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close stops the relay and waits for the serve loop to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

func (s *Server) serve(conn net.PacketConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logf("relay: read: %v", err)
			time.Sleep(time.Millisecond)
			continue
		}
		s.handle(conn, string(buf[:n]), from)
	}
}

func (s *Server) handle(conn net.PacketConn, payload string, from net.Addr) {
	name, argument, err := ParseRequest(payload)
	if err != nil {
		s.logf("relay: %v from %s", err, from)
		return
	}

	h, ok := s.handlers[name]
	if !ok {
		s.logf("relay: %v from %s", apperrors.RelayUnknownRequest(name), from)
		return
	}

	if err := h(argument, from); err != nil {
		s.logf("relay: %s(%s) from %s failed: %v", name, argument, from, err)
		return
	}

	if _, err := conn.WriteTo([]byte(FormatConfirm(name, argument)), from); err != nil {
		s.logf("relay: reply to %s: %v", from, err)
	}
}

// logf throttles log lines so a flood of bad datagrams cannot fill the log.
func (s *Server) logf(format string, args ...any) {
	if s.limiter.Allow() {
		s.logger.Printf(format, args...)
	}
}

// Send issues one request to the relay at addr and returns the reply.
func Send(ctx context.Context, addr, name, argument string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return "", fmt.Errorf("dial relay %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte(FormatRequest(name, argument))); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}

	buf := make([]byte, MaxDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("no reply from %s: %w", addr, err)
	}
	return string(buf[:n]), nil
}
