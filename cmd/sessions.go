package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"text/tabwriter"
	"time"

	"github.com/devlink/host/internal/ipc"
	"github.com/devlink/host/internal/server"
	"github.com/devlink/host/internal/storage"
)

// sessionRecorder writes one session row per debug session.
type sessionRecorder struct {
	store  *storage.SQLiteStore
	logger *log.Logger
}

func (r *sessionRecorder) SessionOpened(info server.SessionInfo) {
	err := r.store.SaveSession(&storage.Session{
		ID:          info.ID,
		IP:          info.IP,
		Name:        info.Name,
		ConnectedAt: info.ConnectedAt,
		Status:      storage.SessionStatusOpen,
	})
	if err != nil {
		r.logger.Printf("host: record session %s: %v", info.ID, err)
	}
}

func (r *sessionRecorder) SessionClosed(info server.SessionInfo) {
	if err := r.store.CloseSession(info.ID, time.Now()); err != nil {
		r.logger.Printf("host: close session %s: %v", info.ID, err)
	}
}

func (r *sessionRecorder) ChatRecorded(string, string, time.Time) {}

func (r *sessionRecorder) CommandDispatched(string, string) {}

// runSessions implements "devlink sessions". The session log is read from
// the store; --live asks the running host instead.
func runSessions(args []string, stdout, stderr io.Writer) int {
	cfg := &DevicesConfig{}
	fs := newDevicesFlagSet("sessions", "sessions [options]", cfg, stderr)
	ip := fs.String("ip", "", "Only show sessions of this device")
	limit := fs.IntP("lines", "n", 20, "Number of most recent sessions to show")
	live := fs.Bool("live", false, "Show the running host's live sessions")
	if _, code, ok := parseDevicesArgs(fs, cfg, args, 0, stderr); !ok {
		return code
	}

	if *live {
		return runLiveSessions(cfg.AdminSocket, *ip, stdout, stderr)
	}

	store, err := cfg.openStore()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	sessions, err := store.ListSessions(*ip, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to list sessions: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No sessions recorded.")
		return 0
	}

	writeSessionsTable(stdout, sessions, time.Now())
	return 0
}

func writeSessionsTable(w io.Writer, sessions []*storage.Session, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tIP\tNAME\tCONNECTED\tDURATION\tSTATUS")
	for _, s := range sessions {
		name := s.Name
		if name == "" {
			name = "-"
		}
		end := s.ClosedAt
		if end.IsZero() {
			end = now
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(s.ID), s.IP, name,
			formatDuration(now.Sub(s.ConnectedAt)),
			end.Sub(s.ConnectedAt).Truncate(time.Second),
			s.Status)
	}
	tw.Flush()
}

func runLiveSessions(socket, ip string, stdout, stderr io.Writer) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sessions, err := ipc.NewClient(socket).Sessions(ctx)
	if errors.Is(err, ipc.ErrHostNotRunning) {
		fmt.Fprintln(stderr, "Error: host is not running")
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	now := time.Now()
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tIP\tNAME\tCONNECTED")
	n := 0
	for _, s := range sessions {
		if ip != "" && s.IP != ip {
			continue
		}
		name := s.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", shortID(s.ID), s.IP, name, formatDuration(now.Sub(s.ConnectedAt)))
		n++
	}
	tw.Flush()
	fmt.Fprintf(stdout, "\n%d live session(s)\n", n)
	return 0
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
