package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("https://mcp.example.com/sse")
	b := Fingerprint("https://mcp.example.com/sse")
	assert.Equal(t, a, b, "same URL must produce the same fingerprint")
	assert.Len(t, a, 32, "fingerprint should be a 128-bit hex digest")

	c := Fingerprint("https://other.example.com/sse")
	assert.NotEqual(t, a, c, "different URLs must produce different fingerprints")
}

func TestFingerprint_TrailingSlashInsensitive(t *testing.T) {
	assert.Equal(t,
		Fingerprint("https://mcp.example.com/sse"),
		Fingerprint("https://mcp.example.com/sse/"))
}

func TestValidateServerURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		allowHTTP bool
		wantErr   bool
	}{
		{"https accepted", "https://mcp.example.com/sse", false, false},
		{"http rejected", "http://mcp.example.com/sse", false, true},
		{"http localhost accepted", "http://localhost:8080/sse", false, false},
		{"http 127.0.0.1 accepted", "http://127.0.0.1:8080/sse", false, false},
		{"http allowed with override", "http://mcp.example.com/sse", true, false},
		{"ftp rejected", "ftp://mcp.example.com", false, true},
		{"missing host", "https://", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateServerURL(tt.url, tt.allowHTTP)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDir_EnvOverride(t *testing.T) {
	t.Setenv(EnvConfigDir, "/tmp/custom-auth")

	dir, err := Dir("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/custom-auth", "mcp-remote-1.2.3"), dir)
}

func TestDir_VersionNamespaced(t *testing.T) {
	t.Setenv(EnvConfigDir, "")
	os.Unsetenv(EnvConfigDir)

	dir1, err := Dir("1.0.0")
	require.NoError(t, err)
	dir2, err := Dir("2.0.0")
	require.NoError(t, err)
	assert.NotEqual(t, dir1, dir2, "different versions must not share state")
}

func TestParseHeader(t *testing.T) {
	name, value, err := ParseHeader("Authorization: Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "Authorization", name)
	assert.Equal(t, "Bearer abc", value)

	_, _, err = ParseHeader("no-colon-here")
	assert.Error(t, err)

	_, _, err = ParseHeader(": value-only")
	assert.Error(t, err)
}

func TestParseTransport(t *testing.T) {
	got, err := ParseTransport("sse")
	require.NoError(t, err)
	assert.Equal(t, TransportSSE, got)

	got, err = ParseTransport("streamable-http")
	require.NoError(t, err)
	assert.Equal(t, TransportHTTP, got)

	_, err = ParseTransport("websocket")
	assert.Error(t, err)
}

func TestLoadSettings_MissingFileIsNormal(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, settings.Headers)
}

func TestLoadSettings_Apply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "headers:\n  X-Team: platform\ntransport: http\ncallbackPort: 4100\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	cfg := &Config{Headers: map[string]string{"X-Team": "from-flag"}, Transport: TransportSSE}
	require.NoError(t, settings.Apply(cfg, false, false))

	assert.Equal(t, "from-flag", cfg.Headers["X-Team"], "flag headers win over settings")
	assert.Equal(t, TransportHTTP, cfg.Transport)
	assert.Equal(t, 4100, cfg.CallbackPort)

	cfg = &Config{Headers: map[string]string{}, Transport: TransportSSE}
	require.NoError(t, settings.Apply(cfg, true, true))
	assert.Equal(t, TransportSSE, cfg.Transport, "explicit flags suppress settings")
	assert.Equal(t, 0, cfg.CallbackPort)
}
