package transport

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpremote/internal/config"
	"mcpremote/internal/oauth"
	"mcpremote/pkg/logging"
)

const mcpProtocolVersion = "2024-11-05"

// ProbeAuth performs a throwaway connect-and-initialize against the
// remote server to learn whether the stored credentials are accepted
// before the relay starts. Returns oauth.ErrAuthRequired when the server
// answered with an authentication challenge, nil when the handshake
// succeeded, and other errors for unreachable or misbehaving servers.
func ProbeAuth(ctx context.Context, cfg *config.Config, tokens TokenProvider) error {
	headerFunc := func(ctx context.Context) map[string]string {
		headers := make(map[string]string, len(cfg.Headers)+1)
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		if token := tokens(ctx); token != "" {
			headers["Authorization"] = "Bearer " + token
		}
		return headers
	}

	var (
		mcpClient *client.Client
		err       error
	)
	switch cfg.Transport {
	case config.TransportSSE:
		mcpClient, err = client.NewSSEMCPClient(cfg.ServerURL, transport.WithHeaderFunc(headerFunc))
	case config.TransportHTTP:
		mcpClient, err = client.NewStreamableHttpClient(cfg.ServerURL, transport.WithHTTPHeaderFunc(headerFunc))
	default:
		return fmt.Errorf("unknown transport type %q", cfg.Transport)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s probe client: %w", cfg.Transport, err)
	}
	defer mcpClient.Close()

	if err := mcpClient.Start(ctx); err != nil {
		if oauth.IsAuthRequiredError(err) {
			logging.Debug(remoteSubsystem, "Authentication required at transport start: server=%s", cfg.ServerURL)
			// The original text is kept so callers can parse the bearer
			// challenge out of it.
			return fmt.Errorf("%w: %s", oauth.ErrAuthRequired, err)
		}
		return fmt.Errorf("failed to reach %s: %w", cfg.ServerURL, err)
	}

	_, err = mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: mcpProtocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "mcp-remote",
				Version: cfg.Version,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		if oauth.IsAuthRequiredError(err) {
			logging.Debug(remoteSubsystem, "Authentication required at initialize: server=%s", cfg.ServerURL)
			return fmt.Errorf("%w: %s", oauth.ErrAuthRequired, err)
		}
		return fmt.Errorf("handshake with %s failed: %w", cfg.ServerURL, err)
	}

	return nil
}
