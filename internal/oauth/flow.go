package oauth

import (
	"context"
	"errors"
	"fmt"

	"mcpremote/internal/callback"
	"mcpremote/internal/store"
	"mcpremote/pkg/logging"
)

// URLPresenter shows the authorization URL to the user. The default opens
// a browser; failure downgrades to printing copy-paste instructions.
type URLPresenter func(url string)

// Flow drives one interactive Authorization Code + PKCE flow end to end
// against an already running callback server. Only the lock leader runs a
// Flow; followers wait for the leader and read the persisted tokens.
type Flow struct {
	client    *Client
	provider  *Provider
	serverURL string
	version   string
	present   URLPresenter

	// issuer overrides the discovery target when a WWW-Authenticate
	// challenge named the authorization server explicitly.
	issuer string
}

// NewFlow creates a Flow for one remote server.
func NewFlow(client *Client, provider *Provider, serverURL, version string) *Flow {
	return &Flow{
		client:    client,
		provider:  provider,
		serverURL: serverURL,
		version:   version,
		present:   PresentURL,
	}
}

// SetURLPresenter replaces the default browser-opening presenter.
func (f *Flow) SetURLPresenter(p URLPresenter) {
	if p != nil {
		f.present = p
	}
}

// SetIssuer points metadata discovery at the given authorization server
// instead of the MCP server URL. The authoritative value comes from the
// WWW-Authenticate challenge on a 401.
func (f *Flow) SetIssuer(issuer string) {
	if issuer != "" {
		f.issuer = issuer
	}
}

// discoveryTarget is the URL metadata discovery starts from.
func (f *Flow) discoveryTarget() string {
	if f.issuer != "" {
		return f.issuer
	}
	return f.serverURL
}

// Authorize runs the full interactive flow: discover metadata, ensure a
// client registration, persist a fresh PKCE verifier, present the
// authorization URL, wait for the callback, and exchange the code for
// tokens. The resulting token set is persisted before returning.
func (f *Flow) Authorize(ctx context.Context, server *callback.Server) (*TokenSet, error) {
	metadata, err := f.client.DiscoverMetadata(ctx, f.discoveryTarget())
	if err != nil {
		return nil, &AuthFailedError{Stage: "metadata discovery", Err: err}
	}

	reg, err := f.ensureRegistration(ctx, metadata, server.RedirectURI())
	if err != nil {
		return nil, &AuthFailedError{Stage: "client registration", Err: err}
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, &AuthFailedError{Stage: "flow setup", Err: err}
	}

	state, err := GenerateState()
	if err != nil {
		return nil, &AuthFailedError{Stage: "flow setup", Err: err}
	}

	// Persisted before the URL leaves this process so the exchange can
	// find it even across a restart.
	if err := f.provider.SaveVerifier(pkce.CodeVerifier); err != nil {
		return nil, &AuthFailedError{Stage: "flow setup", Err: err}
	}

	authURL, err := f.client.BuildAuthorizationURL(
		metadata.AuthorizationEndpoint, reg.ClientID, server.RedirectURI(), state, DefaultScope, pkce)
	if err != nil {
		return nil, &AuthFailedError{Stage: "flow setup", Err: err}
	}

	f.present(authURL)

	result, err := server.WaitForCode(ctx)
	if err != nil {
		return nil, &AuthFailedError{Stage: "authorization", Err: err}
	}

	if result.State != state {
		logging.Warn(subsystem, "State mismatch in authorization response: server=%s", f.serverURL)
		return nil, &AuthFailedError{Stage: "authorization", Err: errors.New("state mismatch, possible CSRF")}
	}

	verifier, err := f.provider.ConsumeVerifier()
	if err != nil {
		return nil, err
	}

	tokens, err := f.client.ExchangeCode(
		ctx, metadata.TokenEndpoint, result.Code, server.RedirectURI(), reg.ClientID, verifier)
	if err != nil {
		return nil, &AuthFailedError{Stage: "code exchange", Err: err}
	}

	if err := f.provider.SaveTokens(tokens); err != nil {
		return nil, fmt.Errorf("failed to persist tokens: %w", err)
	}

	logging.Info(subsystem, "Authorization complete: server=%s", f.serverURL)

	return tokens, nil
}

// Refresh attempts a refresh-token grant. On any refresh failure the
// stored tokens are cleared so the next attempt is interactive; the
// registration is kept. Returns ErrAuthRequired when no refresh token is
// available or the refresh was rejected.
func (f *Flow) Refresh(ctx context.Context) (*TokenSet, error) {
	tokens, err := f.provider.Tokens()
	if err != nil {
		return nil, err
	}

	if tokens.RefreshToken == "" {
		return nil, ErrAuthRequired
	}

	reg, err := f.provider.Registration()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAuthRequired
		}
		return nil, err
	}

	metadata, err := f.client.DiscoverMetadata(ctx, f.discoveryTarget())
	if err != nil {
		return nil, err
	}

	fresh, err := f.client.RefreshToken(ctx, metadata.TokenEndpoint, tokens.RefreshToken, reg.ClientID)
	if err != nil {
		logging.Warn(subsystem, "Token refresh failed, clearing stored tokens: server=%s error=%v", f.serverURL, err)
		if clearErr := f.provider.ClearTokens(); clearErr != nil {
			logging.Error(subsystem, clearErr, "Failed to clear stored tokens after refresh failure")
		}
		return nil, ErrAuthRequired
	}

	// Servers may rotate or omit the refresh token; keep the old one when
	// the response carries none.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tokens.RefreshToken
	}

	if err := f.provider.SaveTokens(fresh); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	logging.Debug(subsystem, "Token refresh succeeded: server=%s", f.serverURL)

	return fresh, nil
}

// ensureRegistration returns the persisted registration or creates one.
// The registration record is only ever replaced wholesale.
func (f *Flow) ensureRegistration(ctx context.Context, metadata *Metadata, redirectURI string) (*ClientRegistration, error) {
	reg, err := f.provider.Registration()
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	reg, err = f.client.Register(ctx, metadata, redirectURI, f.version)
	if err != nil {
		return nil, err
	}

	if err := f.provider.SaveRegistration(reg); err != nil {
		return nil, fmt.Errorf("failed to persist client registration: %w", err)
	}

	return reg, nil
}

// Provider exposes the underlying credential provider.
func (f *Flow) Provider() *Provider {
	return f.provider
}
