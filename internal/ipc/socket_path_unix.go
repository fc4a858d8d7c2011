//go:build unix

package ipc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// socketPathLimit is the sun_path capacity, including the trailing NUL.
const socketPathLimit = len(unix.RawSockaddrUnix{}.Path)

func validateSocketPath(path string) error {
	limit := socketPathLimit - 1
	if len(path) > limit {
		return fmt.Errorf("admin socket path exceeds %d bytes: %s", limit, path)
	}
	return nil
}
