package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	apperrors "github.com/devlink/host/internal/errors"
)

// isDisconnect reports whether err means the peer is gone. These end the
// session quietly; anything else is logged and the read is retried.
func isDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if isDisconnectErrno(err) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not connected")
}

// describeTransportError renders err with the operation, addresses and
// errno when the error carries them.
func describeTransportError(err error) string {
	parts := []string{err.Error()}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		parts = append(parts, "op="+opErr.Op)
		if opErr.Source != nil {
			parts = append(parts, "local="+opErr.Source.String())
		}
		if opErr.Addr != nil {
			parts = append(parts, "remote="+opErr.Addr.String())
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		parts = append(parts, "timeout=true")
	}

	if errno := errnoDetail(err); errno != "" {
		parts = append(parts, errno)
	}
	return strings.Join(parts, " ")
}

func transportError(ip string, err error) string {
	coded := apperrors.TransportError(ip, err)
	return fmt.Sprintf("%s %s", coded.Code, coded.Message)
}
