package bridge

import (
	"context"
	"errors"
	"time"

	"mcpremote/internal/oauth"
	"mcpremote/internal/store"
	"mcpremote/pkg/logging"
)

// Status describes the persisted credential state of one server.
type Status struct {
	ServerURL   string
	Fingerprint string
	ConfigDir   string

	TokensPath     string
	ClientInfoPath string

	HasRegistration bool
	ClientID        string

	HasTokens       bool
	HasRefreshToken bool
	TokenExpired    bool
	ExpiresAt       time.Time
}

// Login runs the coordinated authentication flow ahead of time without
// starting the relay. If the stored credentials are still accepted by the
// server, nothing happens.
func (b *Bridge) Login(ctx context.Context) error {
	if err := b.ensureAuthenticated(ctx, b.tokenProvider()); err != nil {
		return err
	}
	logging.Info(subsystem, "Credentials are valid: server=%s", b.cfg.ServerURL)
	return nil
}

// Status inspects the persisted state without touching the network.
func (b *Bridge) Status() (*Status, error) {
	status := &Status{
		ServerURL:      b.cfg.ServerURL,
		Fingerprint:    b.cfg.Fingerprint,
		ConfigDir:      b.cfg.ConfigDir,
		TokensPath:     b.provider.TokensPath(),
		ClientInfoPath: b.provider.ClientInfoPath(),
	}

	reg, err := b.provider.Registration()
	switch {
	case err == nil:
		status.HasRegistration = true
		status.ClientID = reg.ClientID
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	tokens, err := b.provider.Tokens()
	switch {
	case err == nil:
		status.HasTokens = true
		status.HasRefreshToken = tokens.RefreshToken != ""
		status.TokenExpired = tokens.IsExpired()
		status.ExpiresAt = tokens.ExpiresAt
	case !errors.Is(err, oauth.ErrAuthRequired):
		return nil, err
	}

	return status, nil
}

// Clean deletes every persisted record for this server's fingerprint.
func (b *Bridge) Clean() error {
	if err := b.provider.Clean(); err != nil {
		return err
	}
	logging.Info(subsystem, "Removed stored credentials: server=%s fingerprint=%s",
		b.cfg.ServerURL, b.cfg.Fingerprint)
	return nil
}
