package monitor

import (
	"time"

	"github.com/devlink/host/internal/server"
)

// Event types sent on the /ws feed.
const (
	EventSessionOpened     = "session.opened"
	EventSessionClosed     = "session.closed"
	EventChatMessage       = "chat.message"
	EventCommandDispatched = "command.dispatched"
)

// Event is one message on the /ws feed.
type Event struct {
	Type      string `json:"type"`
	Time      int64  `json:"time"` // unix milliseconds
	IP        string `json:"ip"`
	SessionID string `json:"sessionId,omitempty"`
	Name      string `json:"name,omitempty"`
	Line      string `json:"line,omitempty"`
	Command   string `json:"command,omitempty"`
}

func newSessionEvent(eventType string, info server.SessionInfo, at time.Time) Event {
	return Event{
		Type:      eventType,
		Time:      at.UnixMilli(),
		IP:        info.IP,
		SessionID: info.ID,
		Name:      info.Name,
	}
}

// SessionOpened implements server.Observer.
func (m *Monitor) SessionOpened(info server.SessionInfo) {
	m.Broadcast(newSessionEvent(EventSessionOpened, info, time.Now()))
}

// SessionClosed implements server.Observer.
func (m *Monitor) SessionClosed(info server.SessionInfo) {
	m.Broadcast(newSessionEvent(EventSessionClosed, info, time.Now()))
}

// ChatRecorded implements server.Observer.
func (m *Monitor) ChatRecorded(ip, line string, at time.Time) {
	m.Broadcast(Event{Type: EventChatMessage, Time: at.UnixMilli(), IP: ip, Line: line})
}

// CommandDispatched implements server.Observer.
func (m *Monitor) CommandDispatched(ip, commandText string) {
	m.Broadcast(Event{Type: EventCommandDispatched, Time: time.Now().UnixMilli(), IP: ip, Command: commandText})
}

var _ server.Observer = (*Monitor)(nil)
