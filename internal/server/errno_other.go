//go:build !unix

package server

import (
	"errors"
	"fmt"
	"syscall"
)

func isDisconnectErrno(err error) bool {
	return false
}

func errnoDetail(err error) string {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return ""
	}
	return fmt.Sprintf("errno=%d", uint64(errno))
}
