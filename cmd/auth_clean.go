package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mcpremote/internal/bridge"
)

// authCleanCmd deletes all persisted state for one server.
var authCleanCmd = &cobra.Command{
	Use:   "clean <server-url>",
	Short: "Delete stored credentials for a server",
	Long: `Delete every persisted record for a remote MCP server: the client
registration, tokens, any in-flight code verifier, and stale locks.

The next connection to the server will run a fresh registration and
authorization flow.

Examples:
  mcp-remote auth clean https://mcp.example.com/sse`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthClean,
}

func runAuthClean(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(args[:1])
	if err != nil {
		return err
	}

	if err := bridge.New(cfg).Clean(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Removed stored credentials for %s\n", cfg.ServerURL)
	return nil
}

func init() {
	authCmd.AddCommand(authCleanCmd)
}
