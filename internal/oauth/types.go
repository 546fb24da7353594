package oauth

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the margin applied when checking token expiry.
// It accounts for clock skew and network latency.
const DefaultExpiryMargin = 30 * time.Second

// DefaultScope is requested during authorization and registration.
const DefaultScope = "openid profile email offline_access"

// TokenSet is the persisted form of an OAuth token response.
type TokenSet struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the token lifetime in seconds (from the token response).
	ExpiresIn int `json:"expires_in,omitempty"`

	// ExpiresAt is the calculated expiration timestamp.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`
}

// IsExpired reports whether the access token is unusable: missing,
// expired, or expiring within DefaultExpiryMargin. Tokens without an
// expiry never expire. Validity checking is delegated to
// golang.org/x/oauth2 with the margin folded into the expiry.
func (t *TokenSet) IsExpired() bool {
	token := t.ToOAuth2Token()
	if !token.Expiry.IsZero() {
		token.Expiry = token.Expiry.Add(-DefaultExpiryMargin)
	}
	return !token.Valid()
}

// SetExpiresAtFromExpiresIn calculates and sets ExpiresAt from ExpiresIn.
func (t *TokenSet) SetExpiresAtFromExpiresIn() {
	if t.ExpiresIn > 0 && t.ExpiresAt.IsZero() {
		t.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
}

// ToOAuth2Token converts the TokenSet for golang.org/x/oauth2 consumers.
func (t *TokenSet) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// Metadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414).
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint,omitempty"`
	JwksURI                       string   `json:"jwks_uri,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported           []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsRegistration reports whether the server offers dynamic client
// registration (RFC 7591).
func (m *Metadata) SupportsRegistration() bool {
	return m.RegistrationEndpoint != ""
}

// ClientMetadata is the registration request body (RFC 7591).
type ClientMetadata struct {
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	SoftwareID              string   `json:"software_id,omitempty"`
	SoftwareVersion         string   `json:"software_version,omitempty"`
}

// ClientRegistration is the registration response, persisted wholesale as
// the fingerprint-scoped client info record. It embeds the metadata the
// server echoed back alongside the issued credentials.
type ClientRegistration struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at,omitempty"`
	ClientMetadata
}

// PKCEChallenge holds the PKCE verifier and its S256 challenge.
type PKCEChallenge struct {
	// CodeVerifier is kept secret and only sent at code exchange.
	CodeVerifier string

	// CodeChallenge is SHA256(verifier), base64url-encoded, sent in the
	// authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}
