//go:build windows

package lockfile

import (
	"golang.org/x/sys/windows"
)

// stillActive is the exit code reported for processes that have not exited.
const stillActive = 259

// isProcessRunning checks liveness via OpenProcess. Any inability to
// determine liveness reports not-running, which fails open toward electing
// a new leader.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == stillActive
}
