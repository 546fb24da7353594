package oauth

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"mcpremote/pkg/logging"
)

// OpenBrowser opens the specified URL in the default web browser.
// It supports Linux, macOS, and Windows.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	// Don't wait for the command; the browser opens in the background.
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	return nil
}

// PresentURL is the default URL presenter: try the browser, fall back to
// copy-paste instructions on stderr. Stdout stays untouched, it carries
// the protocol stream.
func PresentURL(url string) {
	if err := OpenBrowser(url); err != nil {
		logging.Debug(subsystem, "Browser launch failed: %v", err)
		fmt.Fprintf(os.Stderr, "Open the following URL in your browser to authorize:\n\n  %s\n\n", url)
		return
	}
	fmt.Fprintf(os.Stderr, "Opened your browser for authorization. If nothing happened, open:\n\n  %s\n\n", url)
}
