package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mcpremote/internal/bridge"
)

// authStatusCmd inspects stored credentials without touching the network.
var authStatusCmd = &cobra.Command{
	Use:   "status <server-url>",
	Short: "Show stored credential state for a server",
	Long: `Show the persisted credential state for a remote MCP server: the
fingerprint, the file paths, and whether a registration and tokens exist.

Examples:
  mcp-remote auth status https://mcp.example.com/sse`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthStatus,
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(args[:1])
	if err != nil {
		return err
	}

	status, err := bridge.New(cfg).Status()
	if err != nil {
		return err
	}

	out := os.Stderr
	fmt.Fprintf(out, "Server:       %s\n", status.ServerURL)
	fmt.Fprintf(out, "Fingerprint:  %s\n", status.Fingerprint)
	fmt.Fprintf(out, "Config dir:   %s\n", status.ConfigDir)

	if status.HasRegistration {
		fmt.Fprintf(out, "Registration: %s (client_id %s)\n", status.ClientInfoPath, status.ClientID)
	} else {
		fmt.Fprintln(out, "Registration: none")
	}

	switch {
	case !status.HasTokens:
		fmt.Fprintln(out, "Tokens:       none")
	case status.TokenExpired && status.HasRefreshToken:
		fmt.Fprintf(out, "Tokens:       %s (expired %s, refresh token present)\n",
			status.TokensPath, status.ExpiresAt.Format(time.RFC3339))
	case status.TokenExpired:
		fmt.Fprintf(out, "Tokens:       %s (expired %s)\n",
			status.TokensPath, status.ExpiresAt.Format(time.RFC3339))
	case status.ExpiresAt.IsZero():
		fmt.Fprintf(out, "Tokens:       %s (no expiry)\n", status.TokensPath)
	default:
		fmt.Fprintf(out, "Tokens:       %s (valid until %s)\n",
			status.TokensPath, status.ExpiresAt.Format(time.RFC3339))
	}

	return nil
}

func init() {
	authCmd.AddCommand(authStatusCmd)
}
