package main

import (
	"bufio"
	"bytes"
	"io"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlink/host/internal/config"
	"github.com/devlink/host/internal/ipc"
	"github.com/devlink/host/internal/server"
	"github.com/devlink/host/internal/storage"
)

func TestSessionRecorder(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	_, err = store.AddDeviceIfAbsent("10.0.0.5")
	require.NoError(t, err)

	rec := &sessionRecorder{store: store, logger: log.New(io.Discard, "", 0)}
	info := server.SessionInfo{ID: "abc", IP: "10.0.0.5", Name: "bob", ConnectedAt: time.Now()}

	rec.SessionOpened(info)
	got, err := store.GetSession("abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, storage.SessionStatusOpen, got.Status)
	assert.Equal(t, "bob", got.Name)

	rec.SessionClosed(info)
	got, err = store.GetSession("abc")
	require.NoError(t, err)
	assert.Equal(t, storage.SessionStatusClosed, got.Status)
	assert.False(t, got.ClosedAt.IsZero())

	// A session that never opened has no row; closing it is harmless.
	rec.SessionClosed(server.SessionInfo{ID: "never", IP: "10.0.0.5"})
}

func TestHostRecordsSessions(t *testing.T) {
	h := newTestHost(t, func(c *config.Config) { c.MonitorAddr = "off" })
	var stdout, stderr bytes.Buffer
	h.start(&stdout, &stderr)
	require.True(t, h.server.Running(), "stderr: %s", stderr.String())

	conn, err := net.Dial("tcp", h.server.Addr())
	require.NoError(t, err)
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	readLines(t, bufio.NewReader(conn), 3)

	require.Eventually(t, func() bool {
		sessions, err := h.store.ListSessions("127.0.0.1", 0)
		return err == nil && len(sessions) == 1 && sessions[0].Status == storage.SessionStatusOpen
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		sessions, err := h.store.ListSessions("127.0.0.1", 0)
		return err == nil && len(sessions) == 1 && sessions[0].Status == storage.SessionStatusClosed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHostAbandonsStaleSessions(t *testing.T) {
	env := newDevicesEnv(t)
	store := env.open(t)
	_, err := store.AddDeviceIfAbsent("10.0.0.5")
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(&storage.Session{
		ID:          "stale",
		IP:          "10.0.0.5",
		ConnectedAt: time.Now().Add(-time.Hour),
		Status:      storage.SessionStatusOpen,
	}))
	store.Close()

	newTestHost(t, func(c *config.Config) { c.StorePath = env.storePath })

	store = env.open(t)
	defer store.Close()
	got, err := store.GetSession("stale")
	require.NoError(t, err)
	assert.Equal(t, storage.SessionStatusAbandoned, got.Status)
}

func TestRunSessions(t *testing.T) {
	env := newDevicesEnv(t)

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, runSessions(env.args(), &stdout, &stderr), stderr.String())
	assert.Equal(t, "No sessions recorded.\n", stdout.String())

	store := env.open(t)
	now := time.Now()
	for _, ip := range []string{"10.0.0.5", "10.0.0.6"} {
		_, err := store.AddDeviceIfAbsent(ip)
		require.NoError(t, err)
	}
	require.NoError(t, store.SaveSession(&storage.Session{
		ID:          "0123456789abcdef",
		IP:          "10.0.0.5",
		Name:        "bob",
		ConnectedAt: now.Add(-10 * time.Minute),
		ClosedAt:    now.Add(-8 * time.Minute),
		Status:      storage.SessionStatusClosed,
	}))
	require.NoError(t, store.SaveSession(&storage.Session{
		ID:          "fedcba9876543210",
		IP:          "10.0.0.6",
		ConnectedAt: now.Add(-time.Minute),
		Status:      storage.SessionStatusOpen,
	}))
	store.Close()

	stdout.Reset()
	require.Equal(t, 0, runSessions(env.args(), &stdout, &stderr), stderr.String())
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "SESSION")
	assert.Contains(t, lines[1], "fedcba98")
	assert.Contains(t, lines[1], "open")
	assert.Contains(t, lines[2], "01234567")
	assert.Contains(t, lines[2], "bob")
	assert.Contains(t, lines[2], "10m ago")
	assert.Contains(t, lines[2], "2m0s")
	assert.Contains(t, lines[2], "closed")

	stdout.Reset()
	require.Equal(t, 0, runSessions(env.args("--ip", "10.0.0.5"), &stdout, &stderr), stderr.String())
	assert.NotContains(t, stdout.String(), "10.0.0.6")

	assert.Equal(t, 1, runSessions(env.args("extra"), &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Usage: devlink sessions")
}

type liveAdmin struct {
	fakeAdmin
	sessions []server.SessionInfo
}

func (a *liveAdmin) LiveSessions() []server.SessionInfo { return a.sessions }

func TestRunSessionsLive(t *testing.T) {
	env := newDevicesEnv(t)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, runSessions(env.args("--live"), &stdout, &stderr))
	assert.Contains(t, stderr.String(), "host is not running")

	admin := &liveAdmin{sessions: []server.SessionInfo{
		{ID: "aaaaaaaa-1111", IP: "10.0.0.5", Name: "bob", ConnectedAt: time.Now().Add(-3 * time.Minute)},
		{ID: "bbbbbbbb-2222", IP: "10.0.0.6", ConnectedAt: time.Now()},
	}}
	sock := ipc.NewSocketServer(env.socketPath, ipc.NewAdminHandler(admin), nil)
	require.NoError(t, sock.Start())
	defer sock.Stop()

	stdout.Reset()
	require.Equal(t, 0, runSessions(env.args("--live"), &stdout, &stderr), stderr.String())
	out := stdout.String()
	assert.Contains(t, out, "aaaaaaaa")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "3m ago")
	assert.Contains(t, out, "2 live session(s)")

	stdout.Reset()
	require.Equal(t, 0, runSessions(env.args("--live", "--ip", "10.0.0.6"), &stdout, &stderr), stderr.String())
	assert.NotContains(t, stdout.String(), "bob")
	assert.Contains(t, stdout.String(), "1 live session(s)")
}
