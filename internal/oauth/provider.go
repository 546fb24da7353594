package oauth

import (
	"errors"
	"fmt"

	"mcpremote/internal/store"
)

// Provider persists the OAuth state machine for one server fingerprint:
// the client registration, the token set, and the in-flight code verifier.
// All writes replace records wholesale, never mutate them in place, so
// concurrent processes observe either the old record or the new one.
type Provider struct {
	store       store.Store
	fingerprint string
}

// NewProvider creates a Provider scoped to one server fingerprint.
func NewProvider(s store.Store, fingerprint string) *Provider {
	return &Provider{store: s, fingerprint: fingerprint}
}

// Registration returns the persisted client registration, or
// store.ErrNotFound when the client has never registered.
func (p *Provider) Registration() (*ClientRegistration, error) {
	var reg ClientRegistration
	if err := p.store.ReadJSON(p.fingerprint, store.NameClientInfo, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// SaveRegistration persists a client registration.
func (p *Provider) SaveRegistration(reg *ClientRegistration) error {
	return p.store.WriteJSON(p.fingerprint, store.NameClientInfo, reg)
}

// Tokens returns the persisted token set. Returns ErrAuthRequired when no
// tokens are stored.
func (p *Provider) Tokens() (*TokenSet, error) {
	var tokens TokenSet
	if err := p.store.ReadJSON(p.fingerprint, store.NameTokens, &tokens); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAuthRequired
		}
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, ErrAuthRequired
	}
	return &tokens, nil
}

// SaveTokens persists a token set.
func (p *Provider) SaveTokens(tokens *TokenSet) error {
	return p.store.WriteJSON(p.fingerprint, store.NameTokens, tokens)
}

// ClearTokens removes the persisted token set. The registration stays, so
// the next authorization attempt is interactive but skips re-registration.
func (p *Provider) ClearTokens() error {
	return p.store.Delete(p.fingerprint, store.NameTokens)
}

// SaveVerifier persists the PKCE code verifier at flow start so a restart
// of this process, or a follower taking over, can still complete the
// exchange.
func (p *Provider) SaveVerifier(verifier string) error {
	return p.store.WriteText(p.fingerprint, store.NameCodeVerifier, verifier)
}

// ConsumeVerifier returns the persisted code verifier and deletes it.
// Each verifier is valid for exactly one exchange. A missing verifier is
// ErrVerifierMissing: the flow files were cleaned mid-flow or the verifier
// was consumed twice.
func (p *Provider) ConsumeVerifier() (string, error) {
	verifier, err := p.store.ReadText(p.fingerprint, store.NameCodeVerifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrVerifierMissing
		}
		return "", err
	}

	if err := p.store.Delete(p.fingerprint, store.NameCodeVerifier); err != nil {
		return "", fmt.Errorf("failed to consume code verifier: %w", err)
	}

	if verifier == "" {
		return "", ErrVerifierMissing
	}

	return verifier, nil
}

// Clean removes every record for this fingerprint: registration, tokens,
// verifier, and any stale lock.
func (p *Provider) Clean() error {
	return p.store.DeleteAll(p.fingerprint)
}

// TokensPath returns the on-disk path of the token record for use in
// error messages and status output.
func (p *Provider) TokensPath() string {
	return p.store.Path(p.fingerprint, store.NameTokens)
}

// ClientInfoPath returns the on-disk path of the registration record.
func (p *Provider) ClientInfoPath() string {
	return p.store.Path(p.fingerprint, store.NameClientInfo)
}
