// Package bridge glues the pieces together: it validates credentials
// against the remote server, coordinates the OAuth flow across processes,
// and runs the stdio-to-remote relay until either side closes.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mcpremote/internal/config"
	"mcpremote/internal/lockfile"
	"mcpremote/internal/oauth"
	"mcpremote/internal/proxy"
	"mcpremote/internal/store"
	"mcpremote/internal/transport"
	"mcpremote/pkg/logging"
)

const subsystem = "Bridge"

// maxAuthAttempts bounds follower retries when the leader vanishes or
// finishes without usable tokens.
const maxAuthAttempts = 3

// Bridge wires the credential store, the lock coordinator, the OAuth flow,
// and the relay for one remote server.
type Bridge struct {
	cfg         *config.Config
	store       store.Store
	provider    *oauth.Provider
	flow        *oauth.Flow
	coordinator *lockfile.Coordinator
}

// New builds a Bridge from a validated configuration.
func New(cfg *config.Config) *Bridge {
	s := store.NewFileStore(cfg.ConfigDir)
	provider := oauth.NewProvider(s, cfg.Fingerprint)
	client := oauth.NewClient()

	return &Bridge{
		cfg:         cfg,
		store:       s,
		provider:    provider,
		flow:        oauth.NewFlow(client, provider, cfg.ServerURL, cfg.Version),
		coordinator: lockfile.NewCoordinator(s),
	}
}

// Flow exposes the OAuth flow, primarily so commands can customize the
// URL presenter.
func (b *Bridge) Flow() *oauth.Flow {
	return b.flow
}

// Provider exposes the credential provider for status and clean commands.
func (b *Bridge) Provider() *oauth.Provider {
	return b.provider
}

// tokenProvider reads the current access token from the store on every
// call, so tokens refreshed by this or any other process take effect
// without a reconnect.
func (b *Bridge) tokenProvider() transport.TokenProvider {
	return func(ctx context.Context) string {
		tokens, err := b.provider.Tokens()
		if err != nil {
			return ""
		}
		return tokens.AccessToken
	}
}

// Run connects to the remote server, authenticating as needed, and relays
// stdio traffic until either side closes or the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sessionID := uuid.NewString()
	logging.Info(subsystem, "Starting: session=%s server=%s fingerprint=%s transport=%s",
		sessionID, b.cfg.ServerURL, b.cfg.Fingerprint, b.cfg.Transport)

	tokens := b.tokenProvider()

	if err := b.ensureAuthenticated(ctx, tokens); err != nil {
		return err
	}

	remote, err := transport.NewRemote(b.cfg, tokens)
	if err != nil {
		return b.describe(err)
	}
	remote.SetReauthFunc(b.reauthenticate)

	local := transport.NewStdio()
	relay := proxy.New(local, remote, sessionID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		// Make sure a cancelled context tears the relay down even if
		// both transports are idle.
		select {
		case <-gctx.Done():
			relay.Close()
		case <-relay.Done():
		}
		return nil
	})

	err = g.Wait()
	logging.Info(subsystem, "Stopped: session=%s", sessionID)
	return err
}

// ensureAuthenticated probes the server with the stored credentials and
// runs the refresh-then-interactive ladder when they are rejected.
func (b *Bridge) ensureAuthenticated(ctx context.Context, tokens transport.TokenProvider) error {
	err := transport.ProbeAuth(ctx, b.cfg, tokens)
	if err == nil {
		return nil
	}
	if !errors.Is(err, oauth.ErrAuthRequired) {
		return b.describe(err)
	}

	logging.Info(subsystem, "Server requires authentication: server=%s", b.cfg.ServerURL)

	// A bearer challenge in the 401 names the authorization server
	// directly; prefer it over deriving one from the MCP endpoint URL.
	if challenge := oauth.ChallengeFromError(err); challenge != nil && challenge.Issuer != "" {
		logging.Debug(subsystem, "Challenge names issuer: %s", challenge.Issuer)
		b.flow.SetIssuer(challenge.Issuer)
	}

	if _, refreshErr := b.flow.Refresh(ctx); refreshErr != nil {
		if authErr := b.authenticate(ctx); authErr != nil {
			return authErr
		}
	}

	if err := transport.ProbeAuth(ctx, b.cfg, tokens); err != nil {
		if errors.Is(err, oauth.ErrAuthRequired) {
			return b.describe(&oauth.AuthFailedError{
				Stage: "verification",
				Err:   errors.New("server rejected freshly issued credentials"),
			})
		}
		return b.describe(err)
	}
	return nil
}

// authenticate obtains fresh tokens with cross-process coordination: the
// lock leader drives the interactive browser flow, everyone else waits
// for it and picks up the persisted result.
func (b *Bridge) authenticate(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		session, err := b.coordinator.AcquireOrJoin(ctx, b.cfg.Fingerprint, b.cfg.CallbackPort)
		if err != nil {
			return b.describe(err)
		}

		if session.Role == lockfile.RoleLeader {
			_, err := b.flow.Authorize(ctx, session.Server)
			// The flow is over either way: let waiting followers see the
			// outcome, then free the lock for the next round.
			b.coordinator.Release(b.cfg.Fingerprint)
			session.Server.Stop()
			if err != nil {
				return b.describe(err)
			}
			return nil
		}

		logging.Info(subsystem, "Another process is authenticating, waiting: leader_port=%d", session.LeaderPort)

		err = b.coordinator.WaitForLeader(ctx, b.cfg.Fingerprint, session.LeaderPort)
		if err == nil {
			if _, tokErr := b.provider.Tokens(); tokErr == nil {
				logging.Info(subsystem, "Reusing credentials from the leader's authentication")
				return nil
			}
			logging.Warn(subsystem, "Leader finished but left no credentials, retrying")
		} else if errors.Is(err, lockfile.ErrLeaderGone) {
			logging.Warn(subsystem, "Auth leader disappeared, retrying acquisition")
		} else {
			return b.describe(err)
		}

		if attempt >= maxAuthAttempts {
			return b.describe(fmt.Errorf("authentication did not complete after %d attempts", attempt))
		}
	}
}

// reauthenticate handles a mid-session credential rejection: one refresh
// attempt, then the coordinated interactive flow.
func (b *Bridge) reauthenticate(ctx context.Context) error {
	if _, err := b.flow.Refresh(ctx); err == nil {
		return nil
	}
	return b.authenticate(ctx)
}

// describe decorates an error with the concrete server and file paths a
// user needs for manual recovery.
func (b *Bridge) describe(err error) error {
	return fmt.Errorf("%w\n  server:      %s\n  credentials: %s\n  reset with:  mcp-remote auth clean %s",
		err, b.cfg.ServerURL, b.provider.TokensPath(), b.cfg.ServerURL)
}
