package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"mcpremote/pkg/logging"
)

// StaticClientID is used when the authorization server offers no dynamic
// registration endpoint. Such servers are expected to accept any public
// client identifying itself by name.
const StaticClientID = "mcp-remote"

// newClientMetadata builds the registration request for this bridge.
func newClientMetadata(redirectURI, version string) ClientMetadata {
	return ClientMetadata{
		ClientName:              "MCP Remote Bridge",
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Scope:                   DefaultScope,
		SoftwareID:              "mcp-remote",
		SoftwareVersion:         version,
	}
}

// Register performs dynamic client registration (RFC 7591) against the
// server's registration endpoint. When the server advertises no such
// endpoint, a static public-client registration is returned instead.
func (c *Client) Register(ctx context.Context, metadata *Metadata, redirectURI, version string) (*ClientRegistration, error) {
	clientMeta := newClientMetadata(redirectURI, version)

	if !metadata.SupportsRegistration() {
		logging.Debug(subsystem, "Server has no registration endpoint, using static client id")
		return &ClientRegistration{
			ClientID:       StaticClientID,
			ClientMetadata: clientMeta,
		}, nil
	}

	payload, err := json.Marshal(clientMeta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.RegistrationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}

	// A guessed default endpoint may simply not exist; treat that like a
	// server without dynamic registration.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		logging.Debug(subsystem, "Registration endpoint answered %d, using static client id", resp.StatusCode)
		return &ClientRegistration{
			ClientID:       StaticClientID,
			ClientMetadata: clientMeta,
		}, nil
	}

	// RFC 7591 mandates 201, some servers answer 200.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		logging.Debug(subsystem, "Registration failed: status=%d body=%s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("client registration failed with status %d", resp.StatusCode)
	}

	var registration ClientRegistration
	if err := json.Unmarshal(body, &registration); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}

	if registration.ClientID == "" {
		return nil, fmt.Errorf("registration response from %s contains no client_id", metadata.RegistrationEndpoint)
	}

	logging.Info(subsystem, "Registered OAuth client: client_id=%s", registration.ClientID)

	return &registration, nil
}
