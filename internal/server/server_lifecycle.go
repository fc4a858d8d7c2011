package server

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/devlink/host/internal/errors"
)

// Start binds the listen port and starts the accept loop in a goroutine.
// Port 0 picks a free port; Port reports the one chosen.
//
// A bind failure returns a fatal listener.bind_failed error and the accept
// loop is not entered. Starting a running Server returns
// listener.already_running and changes nothing.
func (s *Server) Start(port int) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return apperrors.AlreadyRunning(s.addr)
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return apperrors.BindFailed(addr, err)
	}

	s.listener = ln
	s.addr = ln.Addr().String()
	s.port = port
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.stopCh = make(chan struct{})
	s.startedAt = time.Now()
	s.stopping.Store(false)

	s.logger.Printf("server: debug service listening on %s", s.addr)

	s.wg.Add(1)
	go s.acceptLoop(ln, s.stopCh)
	return nil
}

// Stop closes the listener and every live session, then waits for their
// goroutines to exit. Stopping a stopped Server is a no-op.
func (s *Server) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopping.Store(true)
	close(s.stopCh)
	s.listener = nil
	s.addr = ""
	s.port = 0
	s.mu.Unlock()

	err := ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	// Closing the transports unblocks pending reads.
	for _, sess := range s.sessions.snapshot() {
		sess.closeTransport()
	}

	s.wg.Wait()
	s.logger.Printf("server: debug service stopped")
	return err
}

func (s *Server) acceptLoop(ln net.Listener, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger.Printf("server: listener closed unexpectedly: %v", err)
				return
			}
			s.logger.Printf("server: accept: %v", err)
			time.Sleep(PollInterval)
			continue
		}

		s.serveConn(conn, stop)
	}
}

// serveConn admits one accepted transport. It runs on the accept goroutine
// and returns without waiting for the session.
func (s *Server) serveConn(conn net.Conn, stop <-chan struct{}) {
	ip := remoteIP(conn.RemoteAddr())

	dev, err := s.devices.GetOrCreate(ip)
	if err != nil {
		s.logger.Printf("server: rejecting %s: %v", ip, err)
		conn.Close()
		return
	}

	if s.blocks.IsBlocked(ip) {
		s.logger.Printf("server: rejected blocked device %s", ip)
		conn.Close()
		return
	}

	sess := newSession(s, dev, conn, uuid.NewString())
	if prev := s.sessions.add(sess); prev != nil {
		s.logger.Printf("server: %s reconnected, closing previous session %s", ip, prev.id)
		prev.closeTransport()
	}

	if s.stopping.Load() {
		s.finishSession(sess)
		return
	}

	name := dev.DisplayName()
	if err := sess.writeLines(BannerLines(s.opts.Version, ip, name)); err != nil {
		s.logger.Printf("server: banner to %s failed: %v", ip, err)
		s.finishSession(sess)
		return
	}

	sess.opened.Store(true)
	dev.Touch(sess.connectedAt)
	s.logger.Printf("server: session %s opened for %s", sess.id, ip)
	s.currentObserver().SessionOpened(sess.Info())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.run(stop)
	}()
}

// finishSession is the single exit path for a session. It leaves the
// registry only if still registered, closes the transport and notifies the
// observer once.
func (s *Server) finishSession(sess *Session) {
	s.sessions.remove(sess)
	sess.closeTransport()
	if !sess.markFinished() {
		return
	}
	sess.device.Touch(time.Now())
	s.logger.Printf("server: session %s closed for %s", sess.id, sess.ip)
	s.currentObserver().SessionClosed(sess.Info())
}

// remoteIP strips the port from a remote address.
func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok && tcpAddr.IP != nil {
		return tcpAddr.IP.String()
	}
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
