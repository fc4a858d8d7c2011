// Package monitor serves the operator view of a running host: JSON status
// and device listings plus a WebSocket feed of session events.
//
// Every endpoint only answers requests from loopback addresses.
package monitor

import (
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devlink/host/internal/server"
	"github.com/devlink/host/internal/storage"
)

// channelBufferSize is the queue depth for the broadcaster and for each
// client. Events beyond it are dropped.
const channelBufferSize = 256

// StatusSource reports the state of the debug service.
// *server.Server satisfies it.
type StatusSource interface {
	Running() bool
	Addr() string
	Version() string
	StartedAt() time.Time
	LiveSessions() []server.SessionInfo
}

// DeviceSource lists known devices. *storage.SQLiteStore satisfies it.
type DeviceSource interface {
	ListDevices() ([]*storage.Device, error)
}

// Monitor is the operator HTTP server.
type Monitor struct {
	status    StatusSource
	devices   DeviceSource
	logger    *log.Logger
	upgrader  websocket.Upgrader
	createdAt time.Time

	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan Event
	stopped    bool
	httpServer *http.Server
	addr       string
}

// New creates a Monitor and starts its broadcaster. If logger is nil, logs
// are discarded. Call Start to serve HTTP, Stop to release resources.
func New(status StatusSource, devices DeviceSource, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Monitor{
		status:    status,
		devices:   devices,
		logger:    logger,
		createdAt: time.Now(),
		clients:   make(map[*client]bool),
		broadcast: make(chan Event, channelBufferSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Only loopback clients get this far.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	go m.runBroadcaster()
	return m
}

// Handler returns the HTTP handler with all monitor endpoints.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", m.handleStatus)
	mux.HandleFunc("/devices", m.handleDevices)
	mux.HandleFunc("/ws", m.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Start binds addr and serves in a goroutine. A bind failure is returned
// immediately.
func (m *Monitor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}

	m.mu.Lock()
	m.httpServer = srv
	m.addr = ln.Addr().String()
	m.mu.Unlock()

	m.logger.Printf("monitor: listening on %s", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Printf("monitor: serve: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (m *Monitor) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.addr
}

// ClientCount returns the number of connected feed clients.
func (m *Monitor) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Broadcast queues ev for every feed client. It never blocks; events are
// dropped when the queue is full or the monitor is stopped.
func (m *Monitor) Broadcast(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return
	}
	select {
	case m.broadcast <- ev:
	default:
		m.logger.Printf("monitor: broadcast queue full, dropping %s", ev.Type)
	}
}

func (m *Monitor) runBroadcaster() {
	for ev := range m.broadcast {
		m.mu.RLock()
		for c := range m.clients {
			select {
			case <-c.done:
			case c.send <- ev:
			default:
				m.logger.Printf("monitor: client %s too slow, dropping %s", c.id, ev.Type)
			}
		}
		m.mu.RUnlock()
	}
}

// Stop disconnects feed clients and shuts the HTTP server down.
// It is safe to call more than once.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	for c := range m.clients {
		c.closeSend()
	}
	m.clients = make(map[*client]bool)
	close(m.broadcast)
	srv := m.httpServer
	m.mu.Unlock()

	if srv != nil {
		return srv.Close()
	}
	return nil
}
