//go:build unix

package server

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

func isDisconnectErrno(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case unix.ECONNRESET, unix.EPIPE, unix.ENOTCONN, unix.ECONNABORTED, unix.ESHUTDOWN:
		return true
	}
	return false
}

func errnoDetail(err error) string {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return ""
	}
	name := unix.ErrnoName(errno)
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("errno=%d(%s)", int(errno), name)
}
