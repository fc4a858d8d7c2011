package monitor

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/devlink/host/internal/server"
)

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Running          bool                 `json:"running"`
	ListeningAddress string               `json:"listening_address,omitempty"`
	Version          string               `json:"version"`
	SessionCount     int                  `json:"session_count"`
	Sessions         []server.SessionInfo `json:"sessions"`
	UptimeSeconds    int64                `json:"uptime_seconds"`
	MonitorClients   int                  `json:"monitor_clients"`
}

// DeviceResponse is one entry of GET /devices.
type DeviceResponse struct {
	IP        string    `json:"ip"`
	Name      string    `json:"name,omitempty"`
	Blocked   bool      `json:"blocked"`
	Connected bool      `json:"connected"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !m.allow(w, r) {
		return
	}

	sessions := m.status.LiveSessions()
	resp := StatusResponse{
		Running:          m.status.Running(),
		ListeningAddress: m.status.Addr(),
		Version:          m.status.Version(),
		SessionCount:     len(sessions),
		Sessions:         sessions,
		MonitorClients:   m.ClientCount(),
	}
	started := m.status.StartedAt()
	if resp.Running && !started.IsZero() {
		resp.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	writeJSON(w, resp)
}

func (m *Monitor) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !m.allow(w, r) {
		return
	}

	records, err := m.devices.ListDevices()
	if err != nil {
		m.logger.Printf("monitor: list devices: %v", err)
		http.Error(w, "Failed to list devices", http.StatusInternalServerError)
		return
	}

	live := make(map[string]bool)
	for _, s := range m.status.LiveSessions() {
		live[s.IP] = true
	}

	resp := make([]DeviceResponse, 0, len(records))
	for _, d := range records {
		resp = append(resp, DeviceResponse{
			IP:        d.IP,
			Name:      d.Name,
			Blocked:   d.Blocked,
			Connected: live[d.IP],
			CreatedAt: d.CreatedAt,
			LastSeen:  d.LastSeen,
		})
	}
	writeJSON(w, resp)
}

// allow enforces loopback-only GET access.
func (m *Monitor) allow(w http.ResponseWriter, r *http.Request) bool {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: monitor is local-only", http.StatusForbidden)
		return false
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// isLoopbackRequest reports whether r came from this machine. Unparseable
// addresses are rejected.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.HasPrefix(r.RemoteAddr, "@") || strings.HasPrefix(r.RemoteAddr, "/")
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
