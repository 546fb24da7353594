package cmd

import (
	"github.com/spf13/cobra"
)

// authCmd groups the credential management subcommands.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored credentials for remote MCP servers",
	Long: `Manage the OAuth credentials mcp-remote stores per server.

Credentials live in a per-version directory (default ~/.mcp-auth, override
with MCP_REMOTE_CONFIG_DIR), keyed by a fingerprint of the server URL.

Examples:
  mcp-remote auth login https://mcp.example.com/sse    # Authenticate ahead of time
  mcp-remote auth status https://mcp.example.com/sse   # Inspect stored credentials
  mcp-remote auth clean https://mcp.example.com/sse    # Delete stored credentials`,
}

func init() {
	rootCmd.AddCommand(authCmd)
}
