package server

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/devlink/host/internal/errors"
	"github.com/devlink/host/internal/storage"
)

const waitFor = 5 * time.Second
const tick = 5 * time.Millisecond

func TestStart_BindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	srv := NewServer(Options{Host: "127.0.0.1"}, nil, nil, nil)
	err = srv.Start(port)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeListenerBindFailed))
	assert.True(t, apperrors.IsFatal(err))
	assert.False(t, srv.Running())
	assert.Zero(t, srv.Port())

	// Stop on a server that never started is a no-op.
	assert.NoError(t, srv.Stop())
}

func TestStart_AlreadyRunning(t *testing.T) {
	env := newTestEnv(t, Options{})
	port := env.srv.Port()
	require.NotZero(t, port)

	err := env.srv.Start(0)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeListenerAlreadyRunning))
	assert.False(t, apperrors.IsFatal(err))
	assert.Equal(t, port, env.srv.Port(), "second Start must not rebind")
	assert.True(t, env.srv.Running())
}

func TestStop_Idempotent(t *testing.T) {
	env := newTestEnv(t, Options{})

	require.NoError(t, env.srv.Stop())
	assert.False(t, env.srv.Running())
	require.NoError(t, env.srv.Stop())

	// A stopped server can be started again.
	require.NoError(t, env.srv.Start(0))
	assert.True(t, env.srv.Running())
}

func TestConcurrentStartStop(t *testing.T) {
	env := newTestEnv(t, Options{})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if err := env.srv.Start(0); err == nil {
					if addr := env.srv.Addr(); addr != "" {
						if conn, err := net.Dial("tcp", addr); err == nil {
							conn.Close()
						}
					}
				}
				env.srv.Stop()
			}
		}()
	}
	wg.Wait()

	require.NoError(t, env.srv.Stop())
	assert.False(t, env.srv.Running())
	assert.Zero(t, env.srv.SessionCount())
}

func TestTCP_BannerAndCommand(t *testing.T) {
	env := newTestEnv(t, Options{})

	conn, err := net.Dial("tcp", env.srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(waitFor))

	reader := bufio.NewReader(conn)
	var lines []string
	for i := 0; i < 3; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
	assert.Equal(t, BannerLines("1.2.3", "127.0.0.1", ""), lines)

	_, err = conn.Write([]byte("/who\r\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(env.exec.Calls()) == 1 }, waitFor, tick)
	assert.Equal(t, call{text: "who", ip: "127.0.0.1"}, env.exec.Calls()[0])
}

func TestBanner_NewDevice(t *testing.T) {
	env := newTestEnv(t, Options{Version: "2.0.1"})

	c := env.connect(t, "10.0.0.5")
	assert.Equal(t, []string{
		">> devlink remote debug service version 2.0.1",
		">> Your address is 10.0.0.5.",
		`>> Welcome! To register a display name, use "/register <name>".`,
	}, c.readBanner(t))

	require.Eventually(t, func() bool { return env.srv.SessionCount() == 1 }, waitFor, tick)
	dev, err := env.store.GetDevice("10.0.0.5")
	require.NoError(t, err)
	require.NotNil(t, dev, "device record should be created on first contact")
}

func TestBanner_RegisteredDevice(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.store.SetProperty("10.0.0.5", storage.PropName, "bob"))

	c := env.connect(t, "10.0.0.5")
	banner := c.readBanner(t)
	assert.Equal(t, ">> Your name is bob.", banner[2])
}

func TestBlockedDeviceClosedWithoutBanner(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.blocks.Block("10.0.0.9"))

	obs := &recordingObserver{}
	env.srv.SetObserver(obs)

	c := env.connect(t, "10.0.0.9")
	c.expectClosed(t)

	assert.Zero(t, env.srv.SessionCount())
	assert.Empty(t, obs.Events())
	assert.Empty(t, env.exec.Calls())
}

func TestChatFromNamedDeviceIsRecorded(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.store.SetProperty("10.0.0.5", storage.PropName, "bob"))

	c := env.connect(t, "10.0.0.5")
	c.readBanner(t)
	c.send(t, "hello\r\n")

	require.Eventually(t, func() bool {
		n, _ := env.store.ChatCount("10.0.0.5")
		return n == 1
	}, waitFor, tick)

	history, err := env.store.ChatHistory("10.0.0.5", 0)
	require.NoError(t, err)
	assert.Equal(t, "bob> hello", history[0].Line)
	assert.Empty(t, env.exec.Calls())
}

func TestCommandReachesExecutorVerbatim(t *testing.T) {
	env := newTestEnv(t, Options{})

	c := env.connect(t, "10.0.0.5")
	c.readBanner(t)
	c.send(t, "/kick mallory\r\n")

	require.Eventually(t, func() bool { return len(env.exec.Calls()) == 1 }, waitFor, tick)
	assert.Equal(t, call{text: "kick mallory", ip: "10.0.0.5"}, env.exec.Calls()[0])

	// The device has no name, so nothing is recorded.
	n, err := env.store.ChatCount("10.0.0.5")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCommandFromNamedDeviceIsAlsoChat(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.store.SetProperty("10.0.0.5", storage.PropName, "bob"))

	c := env.connect(t, "10.0.0.5")
	c.readBanner(t)
	c.send(t, "/who\n")

	require.Eventually(t, func() bool { return len(env.exec.Calls()) == 1 }, waitFor, tick)
	history, err := env.store.ChatHistory("10.0.0.5", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "bob> /who", history[0].Line)
}

func TestConcurrentDevicesKeepLineOrder(t *testing.T) {
	env := newTestEnv(t, Options{})

	const devices = 50
	const lines = 10

	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		ip := fmt.Sprintf("10.0.2.%d", d+1)
		require.NoError(t, env.store.SetProperty(ip, storage.PropName, fmt.Sprintf("dev%d", d)))
		c := env.connect(t, ip)

		wg.Add(1)
		go func() {
			defer wg.Done()
			c.readBanner(t)
			for i := 0; i < lines; i++ {
				c.send(t, fmt.Sprintf("line %d\r\n", i))
			}
		}()
	}
	wg.Wait()

	for d := 0; d < devices; d++ {
		ip := fmt.Sprintf("10.0.2.%d", d+1)
		require.Eventually(t, func() bool {
			n, _ := env.store.ChatCount(ip)
			return n == lines
		}, waitFor, tick, "device %s", ip)

		history, err := env.store.ChatHistory(ip, 0)
		require.NoError(t, err)
		for i, entry := range history {
			assert.Equal(t, fmt.Sprintf("dev%d> line %d", d, i), entry.Line)
		}
	}
	assert.Equal(t, devices, env.srv.SessionCount())
}

func TestConcurrentTCPDevicesKeepLineOrder(t *testing.T) {
	env := newTestEnv(t, Options{})

	const devices = 20
	const lines = 10

	// Each device dials from its own loopback source address so the
	// sessions are independent.
	dial := func(d int) (net.Conn, error) {
		dialer := net.Dialer{LocalAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, byte(d+2))}}
		return dialer.Dial("tcp", env.srv.Addr())
	}
	first, err := dial(devices)
	if err != nil {
		t.Skipf("loopback source addresses unavailable: %v", err)
	}
	first.Close()

	for d := 0; d < devices; d++ {
		ip := fmt.Sprintf("127.0.0.%d", d+2)
		require.NoError(t, env.store.SetProperty(ip, storage.PropName, fmt.Sprintf("dev%d", d)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, devices)
	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			conn, err := dial(d)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(waitFor))
			reader := bufio.NewReader(conn)
			for i := 0; i < 3; i++ {
				if _, err := reader.ReadString('\n'); err != nil {
					errs <- err
					return
				}
			}

			// Several lines per Write, as a real client might batch them.
			var batch strings.Builder
			for i := 0; i < lines; i++ {
				fmt.Fprintf(&batch, "line %d\r\n", i)
				if i%4 == 3 || i == lines-1 {
					if _, err := conn.Write([]byte(batch.String())); err != nil {
						errs <- err
						return
					}
					batch.Reset()
				}
			}

			ip := fmt.Sprintf("127.0.0.%d", d+2)
			deadline := time.Now().Add(waitFor)
			for time.Now().Before(deadline) {
				if n, _ := env.store.ChatCount(ip); n >= lines {
					return
				}
				time.Sleep(tick)
			}
		}(d)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for d := 0; d < devices; d++ {
		ip := fmt.Sprintf("127.0.0.%d", d+2)
		history, err := env.store.ChatHistory(ip, 0)
		require.NoError(t, err)
		require.Len(t, history, lines, "device %s", ip)
		for i, entry := range history {
			assert.Equal(t, fmt.Sprintf("dev%d> line %d", d, i), entry.Line)
		}
	}
}

func TestLinesInOneWriteAreSeparateMessages(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.store.SetProperty("127.0.0.1", storage.PropName, "bob"))

	conn, err := net.Dial("tcp", env.srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(waitFor))
	reader := bufio.NewReader(conn)
	for i := 0; i < 3; i++ {
		_, err := reader.ReadString('\n')
		require.NoError(t, err)
	}

	var payload strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&payload, "line %d\r\n", i)
	}
	payload.WriteString("/kick mallory\n")
	_, err = conn.Write([]byte(payload.String()))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(env.exec.Calls()) == 1 }, waitFor, tick)
	assert.Equal(t, call{text: "kick mallory", ip: "127.0.0.1"}, env.exec.Calls()[0])

	history, err := env.store.ChatHistory("127.0.0.1", 0)
	require.NoError(t, err)
	require.Len(t, history, 11)
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("bob> line %d", i), history[i].Line)
	}
	assert.Equal(t, "bob> /kick mallory", history[10].Line)
}

func TestBannerSentOnceBeforeProcessing(t *testing.T) {
	env := newTestEnv(t, Options{})

	c := env.connect(t, "10.0.0.5")
	banner := c.readBanner(t)
	assert.Len(t, banner, 3)

	c.send(t, "/ping")
	require.Eventually(t, func() bool { return len(env.exec.Calls()) == 1 }, waitFor, tick)

	c.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, err := c.reader.ReadByte()
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded, "no further output expected")
}

func TestNoOutputMessagesAreIgnored(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.store.SetProperty("10.0.0.5", storage.PropName, "bob"))

	c := env.connect(t, "10.0.0.5")
	c.readBanner(t)
	c.send(t, "\x00/kick mallory")
	c.send(t, "\r\n")
	c.send(t, "   \t ")
	c.send(t, "/done")

	require.Eventually(t, func() bool { return len(env.exec.Calls()) == 1 }, waitFor, tick)
	assert.Equal(t, "done", env.exec.Calls()[0].text)

	history, err := env.store.ChatHistory("10.0.0.5", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "bob> /done", history[0].Line)
}

func TestRemovalOnDisconnect(t *testing.T) {
	env := newTestEnv(t, Options{})
	obs := &recordingObserver{}
	env.srv.SetObserver(obs)

	c := env.connect(t, "10.0.0.5")
	c.readBanner(t)
	require.Eventually(t, func() bool { return env.srv.SessionCount() == 1 }, waitFor, tick)

	c.conn.Close()
	require.Eventually(t, func() bool { return env.srv.SessionCount() == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(obs.Events()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"opened 10.0.0.5", "closed 10.0.0.5"}, obs.Events())
}

func TestReconnectReplacesSession(t *testing.T) {
	env := newTestEnv(t, Options{})

	first := env.connect(t, "10.0.0.5")
	first.readBanner(t)

	second := env.connect(t, "10.0.0.5")
	second.readBanner(t)

	first.expectClosed(t)
	assert.Equal(t, 1, env.srv.SessionCount())

	second.send(t, "/still here")
	require.Eventually(t, func() bool { return len(env.exec.Calls()) == 1 }, waitFor, tick)

	// The replaced session's exit must not evict its successor.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, env.srv.SessionCount())
	assert.True(t, env.srv.SendTo("10.0.0.5", ">> hi"))
	assert.Equal(t, ">> hi", second.readLine(t))
}

func TestStopClosesLiveSessions(t *testing.T) {
	env := newTestEnv(t, Options{})

	a := env.connect(t, "10.0.0.5")
	a.readBanner(t)
	b := env.connect(t, "10.0.0.6")
	b.readBanner(t)
	require.Eventually(t, func() bool { return env.srv.SessionCount() == 2 }, waitFor, tick)

	require.NoError(t, env.srv.Stop())

	a.expectClosed(t)
	b.expectClosed(t)
	assert.Zero(t, env.srv.SessionCount())
	assert.False(t, env.srv.Running())
}

func TestTransportErrorDoesNotEndSession(t *testing.T) {
	env := newTestEnv(t, Options{})

	conn := newScriptedConn(
		scriptedRead{err: errGlitch},
		scriptedRead{data: "/first"},
		scriptedRead{err: &net.OpError{Op: "read", Net: "tcp", Err: errGlitch}},
		scriptedRead{data: "/second", err: errors.New("partial read")},
		scriptedRead{data: "/last", err: net.ErrClosed},
	)

	env.srv.mu.Lock()
	stop := env.srv.stopCh
	env.srv.mu.Unlock()
	env.srv.serveConn(conn, stop)

	require.Eventually(t, func() bool { return env.srv.SessionCount() == 0 }, waitFor, tick)
	assert.Equal(t, []call{
		{text: "first", ip: "10.0.0.7"},
		{text: "second", ip: "10.0.0.7"},
		{text: "last", ip: "10.0.0.7"},
	}, env.exec.Calls())
	assert.Contains(t, conn.writes.String(), ">> Your address is 10.0.0.7.")
}

func TestExecutorPanicEndsOnlyThatSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.exec.hook = func(text, ip string) {
		if text == "boom" {
			panic("boom")
		}
	}

	bad := env.connect(t, "10.0.0.5")
	bad.readBanner(t)
	good := env.connect(t, "10.0.0.6")
	good.readBanner(t)

	bad.send(t, "/boom")
	bad.expectClosed(t)

	good.send(t, "/ok")
	require.Eventually(t, func() bool { return len(env.exec.Calls()) == 2 }, waitFor, tick)
	assert.Equal(t, 1, env.srv.SessionCount())
}

func TestMirrorChat(t *testing.T) {
	var out syncBuffer
	env := newTestEnv(t, Options{
		MirrorChat:    true,
		MessageFormat: "[{ip}] {name}: {text}",
		ChatLogger:    log.New(&out, "chat: ", 0),
	})
	require.NoError(t, env.store.SetProperty("10.0.0.5", storage.PropName, "bob"))

	c := env.connect(t, "10.0.0.5")
	c.readBanner(t)
	c.send(t, "hi there\n")

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "chat: [10.0.0.5] bob: hi there")
	}, waitFor, tick)
}

func TestSendTo(t *testing.T) {
	env := newTestEnv(t, Options{})
	assert.False(t, env.srv.SendTo("10.0.0.5", "nobody home"))

	c := env.connect(t, "10.0.0.5")
	c.readBanner(t)
	require.Eventually(t, func() bool { return env.srv.SessionCount() == 1 }, waitFor, tick)

	go env.srv.SendTo("10.0.0.5", ">> reply")
	assert.Equal(t, ">> reply", c.readLine(t))

	sessions := env.srv.LiveSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "10.0.0.5", sessions[0].IP)
	assert.NotEmpty(t, sessions[0].ID)
}

func TestObserverEvents(t *testing.T) {
	env := newTestEnv(t, Options{})
	obs := &recordingObserver{}
	env.srv.SetObserver(obs)
	require.NoError(t, env.store.SetProperty("10.0.0.5", storage.PropName, "bob"))

	c := env.connect(t, "10.0.0.5")
	c.readBanner(t)
	c.send(t, "/who")
	require.Eventually(t, func() bool { return len(env.exec.Calls()) == 1 }, waitFor, tick)
	c.conn.Close()

	require.Eventually(t, func() bool { return len(obs.Events()) == 4 }, waitFor, tick)
	assert.Equal(t, []string{
		"opened 10.0.0.5",
		"chat 10.0.0.5 bob> /who",
		"command 10.0.0.5 who",
		"closed 10.0.0.5",
	}, obs.Events())
}

func TestObserversFanOut(t *testing.T) {
	env := newTestEnv(t, Options{})
	first, second := &recordingObserver{}, &recordingObserver{}
	env.srv.SetObserver(Observers{first, second})

	c := env.connect(t, "10.0.0.5")
	c.readBanner(t)
	c.conn.Close()

	want := []string{"opened 10.0.0.5", "closed 10.0.0.5"}
	require.Eventually(t, func() bool { return len(second.Events()) == 2 }, waitFor, tick)
	assert.Equal(t, want, first.Events())
	assert.Equal(t, want, second.Events())
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) record(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, fmt.Sprintf(format, args...))
}

func (o *recordingObserver) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func (o *recordingObserver) SessionOpened(info SessionInfo) { o.record("opened %s", info.IP) }
func (o *recordingObserver) SessionClosed(info SessionInfo) { o.record("closed %s", info.IP) }
func (o *recordingObserver) ChatRecorded(ip, line string, _ time.Time) {
	o.record("chat %s %s", ip, line)
}
func (o *recordingObserver) CommandDispatched(ip, text string) { o.record("command %s %s", ip, text) }
