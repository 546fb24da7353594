package cmd

import (
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"mcpremote/internal/bridge"
	"mcpremote/internal/config"
	"mcpremote/internal/oauth"
	"mcpremote/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

// Shared flags. Stdout belongs to the protocol stream, so every flag that
// produces output targets stderr.
var (
	flagHeaders   []string
	flagTransport string
	flagAllowHTTP bool
	flagDebug     bool
)

// rootCmd bridges a stdio MCP client to a remote MCP server.
var rootCmd = &cobra.Command{
	Use:   "mcp-remote <server-url> [callback-port]",
	Short: "Bridge a stdio MCP client to a remote MCP server",
	Long: `mcp-remote connects a local MCP client speaking JSON-RPC over stdio to a
remote MCP server reachable over SSE or streamable HTTP, handling OAuth
authentication transparently.

When the remote server requires authentication, mcp-remote runs an OAuth 2.1
Authorization Code flow with PKCE in your browser. Credentials are persisted
per server, and concurrent mcp-remote processes targeting the same server
share a single interactive login.

Examples:
  mcp-remote https://mcp.example.com/sse
  mcp-remote https://mcp.example.com/mcp 3334 --transport http
  mcp-remote https://mcp.example.com/sse --header "X-Team: platform"`,
	Args: cobra.RangeArgs(1, 2),
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// It is called from the main package to inject the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcp-remote version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error types to semantic exit codes for scripting.
func getExitCode(err error) int {
	var authFailed *oauth.AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	if errors.Is(err, oauth.ErrAuthRequired) {
		return ExitCodeAuthRequired
	}

	return ExitCodeError
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return bridge.New(cfg).Run(ctx)
}

// buildConfig resolves flags, positional arguments, and the optional
// settings file into a validated Config. It fails before any file or
// network activity.
func buildConfig(args []string) (*config.Config, error) {
	level := logging.LevelInfo
	if flagDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	cfg, err := config.New(args[0], GetVersion(), flagAllowHTTP)
	if err != nil {
		return nil, err
	}
	cfg.Debug = flagDebug

	portSet := len(args) == 2
	if portSet {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 0 || port > 65535 {
			return nil, errors.New("callback port must be a number between 0 and 65535")
		}
		cfg.CallbackPort = port
	}

	transportSet := flagTransport != ""
	if transportSet {
		t, err := config.ParseTransport(flagTransport)
		if err != nil {
			return nil, err
		}
		cfg.Transport = t
	}

	for _, h := range flagHeaders {
		name, value, err := config.ParseHeader(h)
		if err != nil {
			return nil, err
		}
		cfg.Headers[name] = value
	}

	settingsPath, err := config.SettingsPath()
	if err == nil {
		settings, err := config.LoadSettings(settingsPath)
		if err != nil {
			return nil, err
		}
		if err := settings.Apply(cfg, transportSet, portSet); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func init() {
	rootCmd.RunE = runBridge
	rootCmd.PersistentFlags().StringArrayVar(&flagHeaders, "header", nil,
		`additional header for every remote request, as "Name: Value" (repeatable)`)
	rootCmd.PersistentFlags().StringVar(&flagTransport, "transport", "",
		"remote transport: sse or http (default sse)")
	rootCmd.PersistentFlags().BoolVar(&flagAllowHTTP, "allow-http", false,
		"permit plain-HTTP server URLs for non-loopback hosts")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false,
		"enable debug logging on stderr")
}
