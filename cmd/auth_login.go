package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"mcpremote/internal/bridge"
	"mcpremote/internal/oauth"
)

// authLoginCmd runs the coordinated OAuth flow without starting the relay.
var authLoginCmd = &cobra.Command{
	Use:   "login <server-url>",
	Short: "Authenticate to a remote MCP server ahead of time",
	Long: `Authenticate to a remote MCP server using OAuth.

This runs the same browser-based flow the bridge runs on demand, so a later
mcp-remote invocation connects without interaction. If the stored
credentials are still accepted by the server, nothing happens.

Examples:
  mcp-remote auth login https://mcp.example.com/sse
  mcp-remote auth login https://mcp.example.com/mcp --transport http`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthLogin,
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(args[:1])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bridge.New(cfg)

	// Spin on stderr while the user deals with the browser.
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Waiting for browser authorization..."

	b.Flow().SetURLPresenter(func(url string) {
		oauth.PresentURL(url)
		s.Start()
	})
	defer s.Stop()

	return b.Login(ctx)
}

func init() {
	authCmd.AddCommand(authLoginCmd)
}
