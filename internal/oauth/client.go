package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mcpremote/pkg/logging"
)

const subsystem = "OAuth"

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is the default TTL for cached server metadata.
	DefaultMetadataCacheTTL = 30 * time.Minute
)

// metadataCacheEntry holds cached server metadata with its timestamp.
type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Client handles OAuth 2.1 protocol operations: metadata discovery, client
// registration, code exchange, and token refresh.
type Client struct {
	httpClient *http.Client

	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry
	metadataTTL   time.Duration

	// singleflight group to deduplicate concurrent metadata fetches
	metadataGroup singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMetadataCacheTTL sets the metadata cache TTL.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.metadataTTL = ttl
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		metadataCache: make(map[string]*metadataCacheEntry),
		metadataTTL:   DefaultMetadataCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// discoveryBaseURL reduces a server or issuer URL to its origin. The
// well-known endpoints live at the host root, never under the MCP
// endpoint path, so https://host/sse discovers at https://host.
func discoveryBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid issuer URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("issuer URL %q is missing a scheme or host", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// DiscoverMetadata fetches authorization server metadata from the
// issuer's origin. It tries RFC 8414
// (/.well-known/oauth-authorization-server) first, then falls back to
// OpenID Connect (/.well-known/openid-configuration). When neither
// well-known endpoint answers, conventional default endpoints under the
// origin are assumed so the flow can still be attempted.
//
// Discovered results are cached with a TTL to reduce network requests;
// assumed defaults are not cached, so the next round re-discovers.
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer, err := discoveryBaseURL(issuer)
	if err != nil {
		return nil, err
	}

	c.metadataMu.RLock()
	if entry, ok := c.metadataCache[issuer]; ok {
		if time.Since(entry.fetchedAt) < c.metadataTTL {
			c.metadataMu.RUnlock()
			return entry.metadata, nil
		}
	}
	c.metadataMu.RUnlock()

	result, err, _ := c.metadataGroup.Do(issuer, func() (interface{}, error) {
		// Double-check after winning the singleflight slot.
		c.metadataMu.RLock()
		if entry, ok := c.metadataCache[issuer]; ok {
			if time.Since(entry.fetchedAt) < c.metadataTTL {
				c.metadataMu.RUnlock()
				return entry.metadata, nil
			}
		}
		c.metadataMu.RUnlock()

		return c.doDiscoverMetadata(ctx, issuer)
	})

	if err != nil {
		return nil, err
	}

	return result.(*Metadata), nil
}

func (c *Client) doDiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	wellKnownURL := issuer + "/.well-known/oauth-authorization-server"
	metadata, err := c.fetchMetadata(ctx, wellKnownURL)
	if err == nil {
		c.cacheMetadata(issuer, metadata)
		return metadata, nil
	}

	logging.Debug(subsystem, "RFC 8414 metadata fetch failed, trying OIDC: issuer=%s error=%v", issuer, err)

	wellKnownURL = issuer + "/.well-known/openid-configuration"
	metadata, err = c.fetchMetadata(ctx, wellKnownURL)
	if err == nil {
		c.cacheMetadata(issuer, metadata)
		return metadata, nil
	}

	logging.Warn(subsystem, "Metadata discovery failed, assuming default endpoints: issuer=%s error=%v", issuer, err)

	return defaultMetadata(issuer), nil
}

// defaultMetadata is the discovery fallback: servers without a metadata
// document conventionally expose these endpoints under the origin.
func defaultMetadata(issuer string) *Metadata {
	return &Metadata{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + "/authorize",
		TokenEndpoint:         issuer + "/token",
		RegistrationEndpoint:  issuer + "/register",
	}
}

func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var metadata Metadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("metadata from %s is missing required endpoints", metadataURL)
	}

	return &metadata, nil
}

func (c *Client) cacheMetadata(issuer string, metadata *Metadata) {
	c.metadataMu.Lock()
	c.metadataCache[issuer] = &metadataCacheEntry{
		metadata:  metadata,
		fetchedAt: time.Now(),
	}
	c.metadataMu.Unlock()

	logging.Debug(subsystem, "Cached OAuth metadata: issuer=%s authorization_endpoint=%s token_endpoint=%s",
		issuer, metadata.AuthorizationEndpoint, metadata.TokenEndpoint)
}

// ClearMetadataCache clears the metadata cache. Useful in tests or when
// metadata must be refreshed immediately.
func (c *Client) ClearMetadataCache() {
	c.metadataMu.Lock()
	c.metadataCache = make(map[string]*metadataCacheEntry)
	c.metadataMu.Unlock()
}

// BuildAuthorizationURL constructs the OAuth authorization URL.
func (c *Client) BuildAuthorizationURL(authEndpoint, clientID, redirectURI, state, scope string, pkce *PKCEChallenge) (string, error) {
	authURL, err := url.Parse(authEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := authURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)

	if scope != "" {
		query.Set("scope", scope)
	}

	if pkce != nil {
		query.Set("code_challenge", pkce.CodeChallenge)
		query.Set("code_challenge_method", pkce.CodeChallengeMethod)
	}

	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}

// ExchangeCode exchanges an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, tokenEndpoint, code, redirectURI, clientID, codeVerifier string) (*TokenSet, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"code_verifier": {codeVerifier},
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// RefreshToken obtains a new access token using a refresh token.
func (c *Client) RefreshToken(ctx context.Context, tokenEndpoint, refreshToken, clientID string) (*TokenSet, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.Debug(subsystem, "Token request failed: status=%d body=%s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var token TokenSet
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	token.SetExpiresAtFromExpiresIn()

	return &token, nil
}

// HTTPClient returns the underlying HTTP client so other components can
// reuse it for connection pooling and consistent timeout behavior.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}
