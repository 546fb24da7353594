package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpremote/internal/config"
	"mcpremote/internal/lockfile"
	"mcpremote/internal/oauth"
	"mcpremote/internal/store"
)

// newAuthServer serves OAuth metadata, registration, and token endpoints.
func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"registration_endpoint":  srv.URL + "/register",
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"client_id":     "test-client",
			"redirect_uris": []string{},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-fresh",
			"token_type":    "Bearer",
			"refresh_token": "rt-fresh",
			"expires_in":    3600,
		})
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestBridge(t *testing.T, serverURL string) *Bridge {
	t.Helper()

	cfg := &config.Config{
		ServerURL:   serverURL,
		Fingerprint: config.Fingerprint(serverURL),
		Headers:     map[string]string{},
		Transport:   config.TransportSSE,
		ConfigDir:   t.TempDir(),
		Version:     "0.0.0-test",
	}

	s := store.NewMemoryStore()
	provider := oauth.NewProvider(s, cfg.Fingerprint)

	return &Bridge{
		cfg:         cfg,
		store:       s,
		provider:    provider,
		flow:        oauth.NewFlow(oauth.NewClient(), provider, cfg.ServerURL, cfg.Version),
		coordinator: lockfile.NewCoordinator(s),
	}
}

func TestAuthenticate_LeaderDrivesFlow(t *testing.T) {
	auth := newAuthServer(t)
	b := newTestBridge(t, auth.URL)

	// Act as the user's browser: follow redirect parameters back to the
	// callback listener.
	b.flow.SetURLPresenter(func(authURL string) {
		go func() {
			u, err := url.Parse(authURL)
			if err != nil {
				return
			}
			redirect := u.Query().Get("redirect_uri")
			state := u.Query().Get("state")
			resp, err := http.Get(fmt.Sprintf("%s?code=abc&state=%s", redirect, url.QueryEscape(state)))
			if err == nil {
				resp.Body.Close()
			}
		}()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, b.authenticate(ctx))

	tokens, err := b.provider.Tokens()
	require.NoError(t, err)
	assert.Equal(t, "at-fresh", tokens.AccessToken)

	// The leader released its lock once the flow finished.
	var rec lockfile.Record
	err = b.store.ReadJSON(b.cfg.Fingerprint, store.NameLock, &rec)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReauthenticate_RefreshShortCircuitsInteractiveFlow(t *testing.T) {
	auth := newAuthServer(t)
	b := newTestBridge(t, auth.URL)

	require.NoError(t, b.provider.SaveRegistration(&oauth.ClientRegistration{ClientID: "test-client"}))
	require.NoError(t, b.provider.SaveTokens(&oauth.TokenSet{AccessToken: "at-old", RefreshToken: "rt-old"}))

	// No URL presenter is installed; an interactive flow would open a
	// browser, so refresh succeeding is observable through the result.
	require.NoError(t, b.reauthenticate(context.Background()))

	tokens, err := b.provider.Tokens()
	require.NoError(t, err)
	assert.Equal(t, "at-fresh", tokens.AccessToken)
}

func TestTokenProvider_ReflectsStoreChanges(t *testing.T) {
	b := newTestBridge(t, "https://mcp.example.com")
	tokens := b.tokenProvider()
	ctx := context.Background()

	assert.Empty(t, tokens(ctx))

	require.NoError(t, b.provider.SaveTokens(&oauth.TokenSet{AccessToken: "at-1"}))
	assert.Equal(t, "at-1", tokens(ctx))

	require.NoError(t, b.provider.SaveTokens(&oauth.TokenSet{AccessToken: "at-2"}))
	assert.Equal(t, "at-2", tokens(ctx))
}

func TestStatus(t *testing.T) {
	b := newTestBridge(t, "https://mcp.example.com")

	status, err := b.Status()
	require.NoError(t, err)
	assert.False(t, status.HasRegistration)
	assert.False(t, status.HasTokens)
	assert.Equal(t, b.cfg.Fingerprint, status.Fingerprint)

	require.NoError(t, b.provider.SaveRegistration(&oauth.ClientRegistration{ClientID: "test-client"}))
	require.NoError(t, b.provider.SaveTokens(&oauth.TokenSet{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	status, err = b.Status()
	require.NoError(t, err)
	assert.True(t, status.HasRegistration)
	assert.Equal(t, "test-client", status.ClientID)
	assert.True(t, status.HasTokens)
	assert.True(t, status.HasRefreshToken)
	assert.True(t, status.TokenExpired)
}

func TestClean(t *testing.T) {
	b := newTestBridge(t, "https://mcp.example.com")

	require.NoError(t, b.provider.SaveRegistration(&oauth.ClientRegistration{ClientID: "test-client"}))
	require.NoError(t, b.provider.SaveTokens(&oauth.TokenSet{AccessToken: "at"}))
	require.NoError(t, b.Clean())

	status, err := b.Status()
	require.NoError(t, err)
	assert.False(t, status.HasRegistration)
	assert.False(t, status.HasTokens)
}

func TestDescribe_IncludesRecoveryPaths(t *testing.T) {
	b := newTestBridge(t, "https://mcp.example.com")

	err := b.describe(assert.AnError)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "https://mcp.example.com")
	assert.Contains(t, err.Error(), "auth clean")
}
