package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devlink/host/internal/device"
	"github.com/devlink/host/internal/storage"
)

type call struct {
	text string
	ip   string
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []call
	hook  func(text, ip string)
}

func (e *recordingExecutor) Execute(text, ip string) {
	e.mu.Lock()
	e.calls = append(e.calls, call{text: text, ip: ip})
	hook := e.hook
	e.mu.Unlock()
	if hook != nil {
		hook(text, ip)
	}
}

func (e *recordingExecutor) Calls() []call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]call(nil), e.calls...)
}

type testEnv struct {
	srv    *Server
	store  *storage.SQLiteStore
	blocks *device.BlockList
	exec   *recordingExecutor
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Version == "" {
		opts.Version = "1.2.3"
	}

	env := &testEnv{
		store:  store,
		blocks: device.NewBlockList(store),
		exec:   &recordingExecutor{},
	}
	env.srv = NewServer(opts, device.NewRegistry(store, nil), env.blocks, env.exec)
	require.NoError(t, env.srv.Start(0))
	t.Cleanup(func() { env.srv.Stop() })
	return env
}

// addrConn overrides the remote address of a pipe end so tests can admit
// devices with arbitrary IPs.
type addrConn struct {
	net.Conn
	remote net.Addr
}

func (c addrConn) RemoteAddr() net.Addr { return c.remote }

type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// connect admits a piped device with the given IP through the same path the
// accept loop uses.
func (env *testEnv) connect(t *testing.T, ip string) *client {
	t.Helper()
	return env.admit(t, ip, func(serverSide net.Conn) net.Conn {
		return addrConn{Conn: serverSide, remote: &net.TCPAddr{IP: net.ParseIP(ip), Port: 50000}}
	})
}

func (env *testEnv) admit(t *testing.T, ip string, wrap func(net.Conn) net.Conn) *client {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { clientSide.Close() })

	env.srv.mu.Lock()
	stop := env.srv.stopCh
	env.srv.mu.Unlock()

	go env.srv.serveConn(wrap(serverSide), stop)
	return &client{conn: clientSide, reader: bufio.NewReader(clientSide)}
}

func (c *client) readLine(t *testing.T) string {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func (c *client) readBanner(t *testing.T) []string {
	t.Helper()
	return []string{c.readLine(t), c.readLine(t), c.readLine(t)}
}

func (c *client) send(t *testing.T, payload string) {
	t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := c.conn.Write([]byte(payload))
	require.NoError(t, err)
}

// expectClosed waits for the server to close the transport.
func (c *client) expectClosed(t *testing.T) {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := c.reader.ReadByte()
	require.ErrorIs(t, err, io.EOF)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// scriptedConn replays a fixed sequence of read results, then blocks until
// closed.
type scriptedConn struct {
	mu     sync.Mutex
	reads  []scriptedRead
	closed chan struct{}
	once   sync.Once
	writes syncBuffer
}

type scriptedRead struct {
	data string
	err  error
}

func newScriptedConn(reads ...scriptedRead) *scriptedConn {
	return &scriptedConn{reads: reads, closed: make(chan struct{})}
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.reads) > 0 {
		r := c.reads[0]
		c.reads = c.reads[1:]
		c.mu.Unlock()
		return copy(p, r.data), r.err
	}
	c.mu.Unlock()
	<-c.closed
	return 0, net.ErrClosed
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	return c.writes.Write(p)
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptedConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7075}
}

func (c *scriptedConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 50000}
}

func (c *scriptedConn) SetDeadline(time.Time) error { return nil }

func (c *scriptedConn) SetReadDeadline(time.Time) error { return nil }

func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }

var errGlitch = errors.New("transient glitch")
