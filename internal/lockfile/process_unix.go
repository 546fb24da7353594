//go:build !windows

package lockfile

import (
	"errors"
	"syscall"
)

// isProcessRunning checks liveness with signal 0. EPERM means the process
// exists but belongs to another user, which still counts as running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
