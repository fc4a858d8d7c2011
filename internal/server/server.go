// Package server implements the devlink remote debug service: a TCP
// listener that accepts device connections, greets each device with a
// banner and runs one session goroutine per device. Sessions record chat
// lines for named devices and hand slash commands to an Executor.
package server

import (
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devlink/host/internal/config"
	"github.com/devlink/host/internal/device"
)

// Server is the debug service listener together with its live sessions.
//
// Start and Stop may be called repeatedly; a stopped Server can be started
// again. All exported methods are safe for concurrent use.
type Server struct {
	opts       Options
	devices    *device.Registry
	blocks     *device.BlockList
	logger     *log.Logger
	chatLogger *log.Logger
	format     *messageFormat

	// lifecycleMu serializes Start and Stop. Stop holds it until every
	// goroutine of the stopped cycle has exited.
	lifecycleMu sync.Mutex

	// mu guards the listener lifecycle fields below.
	mu        sync.Mutex
	listener  net.Listener
	addr      string
	port      int
	stopCh    chan struct{}
	startedAt time.Time

	// stopping is set by Stop before live sessions are closed. Sessions
	// registered after that point close themselves.
	stopping atomic.Bool

	// wg tracks the accept loop and every session goroutine.
	wg sync.WaitGroup

	sessions *sessionRegistry

	hookMu   sync.RWMutex
	executor Executor
	observer Observer
}

// NewServer creates a stopped Server. Call Start to begin accepting devices.
// executor may be nil, in which case slash commands are ignored.
func NewServer(opts Options, devices *device.Registry, blocks *device.BlockList, executor Executor) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	chatLogger := opts.ChatLogger
	if chatLogger == nil {
		chatLogger = log.New(logger.Writer(), "chat: ", log.LstdFlags)
	}
	if opts.MessageFormat == "" {
		opts.MessageFormat = config.DefaultMessageFormat
	}
	if blocks == nil {
		blocks = device.NewBlockList(nil)
	}
	if executor == nil {
		executor = ExecutorFunc(func(string, string) {})
	}

	return &Server{
		opts:       opts,
		devices:    devices,
		blocks:     blocks,
		logger:     logger,
		chatLogger: chatLogger,
		format:     newMessageFormat(opts.MessageFormat),
		sessions:   newSessionRegistry(),
		executor:   executor,
		observer:   nopObserver{},
	}
}

// SetExecutor replaces the slash command executor.
// Used when the executor itself needs a reference to the Server.
func (s *Server) SetExecutor(e Executor) {
	if e == nil {
		e = ExecutorFunc(func(string, string) {})
	}
	s.hookMu.Lock()
	s.executor = e
	s.hookMu.Unlock()
}

// SetObserver registers the session event observer. Nil removes it.
func (s *Server) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.hookMu.Lock()
	s.observer = o
	s.hookMu.Unlock()
}

func (s *Server) currentExecutor() Executor {
	s.hookMu.RLock()
	defer s.hookMu.RUnlock()
	return s.executor
}

func (s *Server) currentObserver() Observer {
	s.hookMu.RLock()
	defer s.hookMu.RUnlock()
	return s.observer
}

// Running reports whether the listener is accepting connections.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// Addr returns the bound listen address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Port returns the bound TCP port, or 0 when stopped.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// StartedAt returns when the current listener was started.
func (s *Server) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Version returns the version string printed in the banner.
func (s *Server) Version() string {
	return s.opts.Version
}

// BlockList returns the block list consulted at accept time.
func (s *Server) BlockList() *device.BlockList {
	return s.blocks
}

// Devices returns the device registry.
func (s *Server) Devices() *device.Registry {
	return s.devices
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.sessions.len()
}

// LiveSessions returns a snapshot of the live sessions ordered by IP.
func (s *Server) LiveSessions() []SessionInfo {
	sessions := s.sessions.snapshot()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	return infos
}

// SendTo writes one line to the live session for ip.
// Returns false if no session is live for ip or the write failed.
func (s *Server) SendTo(ip, line string) bool {
	sess, ok := s.sessions.get(ip)
	if !ok {
		return false
	}
	if err := sess.Send(line); err != nil {
		s.logger.Printf("server: send to %s: %v", ip, err)
		return false
	}
	return true
}
