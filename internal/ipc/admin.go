package ipc

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/devlink/host/internal/server"
)

// Admin is the host state the admin API can read and change.
type Admin interface {
	Block(ip string) error
	Unblock(ip string) error
	LiveSessions() []server.SessionInfo
}

// IPRequest is the body of POST /block and POST /unblock.
type IPRequest struct {
	IP string `json:"ip"`
}

// ErrorResponse is returned with non-2xx statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewAdminHandler returns the admin API served on the socket.
func NewAdminHandler(admin Admin) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/block", ipHandler(admin.Block))
	mux.HandleFunc("/unblock", ipHandler(admin.Unblock))
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, admin.LiveSessions())
	})
	return mux
}

func ipHandler(apply func(ip string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req IPRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		ip := net.ParseIP(req.IP)
		if ip == nil {
			writeError(w, http.StatusBadRequest, "invalid ip address")
			return
		}

		if err := apply(ip.String()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, IPRequest{IP: ip.String()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
