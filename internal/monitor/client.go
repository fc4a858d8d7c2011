package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// client is one /ws subscriber.
type client struct {
	id      string
	conn    *websocket.Conn
	monitor *Monitor
	send    chan Event

	done     chan struct{}
	sendOnce sync.Once
}

// closeSend signals writePump to exit. Safe to call more than once.
func (c *client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

func (m *Monitor) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: monitor is local-only", http.StatusForbidden)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Printf("monitor: websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		monitor: m,
		send:    make(chan Event, channelBufferSize),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.clients[c] = true
	count := len(m.clients)
	m.mu.Unlock()

	m.logger.Printf("monitor: client %s connected (%d total)", c.id, count)

	go c.writePump()
	go c.readPump()
}

// writePump sends queued events and periodic pings until the client is
// closed.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case ev := <-c.send:
			data, err := json.Marshal(ev)
			if err != nil {
				c.monitor.logger.Printf("monitor: marshal %s: %v", ev.Type, err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.monitor.logger.Printf("monitor: write to %s: %v", c.id, err)
				c.closeSend()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client input and unregisters the client when the
// connection goes away.
func (c *client) readPump() {
	defer func() {
		c.monitor.mu.Lock()
		delete(c.monitor.clients, c)
		c.monitor.mu.Unlock()
		c.closeSend()
		c.monitor.logger.Printf("monitor: client %s disconnected", c.id)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.monitor.logger.Printf("monitor: read from %s: %v", c.id, err)
			}
			return
		}
	}
}
