package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigDir overrides the directory where credentials and lock files are
// stored. Primarily used in tests and by operators debugging auth state.
const EnvConfigDir = "MCP_REMOTE_CONFIG_DIR"

// baseConfigDir is the root for all persisted state, relative to the user's
// home directory. The actual storage directory is namespaced by version so
// incompatible schema changes never corrupt an older bridge's state.
const baseConfigDir = ".mcp-auth"

// TransportType selects how the bridge connects to the remote server.
type TransportType string

const (
	// TransportSSE connects over HTTP+Server-Sent-Events.
	TransportSSE TransportType = "sse"

	// TransportHTTP connects over streamable HTTP.
	TransportHTTP TransportType = "http"
)

// Config is the fully resolved run configuration for one bridge process.
// It is constructed once in cmd and passed down explicitly; no component
// reads flags or environment variables on its own.
type Config struct {
	// ServerURL is the remote MCP server endpoint.
	ServerURL string

	// Fingerprint is the stable digest of ServerURL used to namespace all
	// persisted state (tokens, registration, verifier, lock).
	Fingerprint string

	// CallbackPort is the preferred port for the local OAuth callback
	// listener. 0 lets the coordinator pick one.
	CallbackPort int

	// Headers are additional HTTP headers forwarded on every remote request.
	Headers map[string]string

	// Transport selects sse or streamable-http for the remote connection.
	Transport TransportType

	// AllowHTTP permits plain-HTTP server URLs for non-loopback hosts.
	AllowHTTP bool

	// ConfigDir is the version-namespaced directory holding persisted state.
	ConfigDir string

	// Version is the bridge version, used for the storage namespace and for
	// dynamic client registration metadata.
	Version string

	// Debug enables debug-level logging.
	Debug bool
}

// New resolves and validates a run configuration. It fails fast on a bad
// server URL or unresolvable home directory, before any network or file
// activity happens.
func New(serverURL, version string, allowHTTP bool) (*Config, error) {
	normalized, err := ValidateServerURL(serverURL, allowHTTP)
	if err != nil {
		return nil, err
	}

	dir, err := Dir(version)
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerURL:   normalized,
		Fingerprint: Fingerprint(normalized),
		Headers:     make(map[string]string),
		Transport:   TransportSSE,
		AllowHTTP:   allowHTTP,
		ConfigDir:   dir,
		Version:     version,
	}, nil
}

// Dir returns the version-namespaced configuration directory, honoring the
// MCP_REMOTE_CONFIG_DIR override. The directory is not created here; the
// credential store creates it lazily on first write.
func Dir(version string) (string, error) {
	if override := os.Getenv(EnvConfigDir); override != "" {
		return filepath.Join(override, "mcp-remote-"+version), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, baseConfigDir, "mcp-remote-"+version), nil
}

// Fingerprint computes the stable digest of a server URL used as the
// namespace key for all persisted records and the cross-process lock.
// Same URL yields the same fingerprint; 128 bits keeps collisions across
// different URLs negligible while staying filesystem friendly.
func Fingerprint(serverURL string) string {
	hash := sha256.Sum256([]byte(strings.TrimSuffix(serverURL, "/")))
	return hex.EncodeToString(hash[:16])
}

// ValidateServerURL checks that raw is a usable remote endpoint and returns
// it in normalized form. HTTPS is required unless the host is loopback or
// allowHTTP is set; this guards against tokens transiting cleartext links.
func ValidateServerURL(raw string, allowHTTP bool) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", raw, err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !allowHTTP && !isLoopbackHost(parsed.Hostname()) {
			return "", fmt.Errorf("refusing plain-http URL %q for non-loopback host (use --allow-http to override)", raw)
		}
	default:
		return "", fmt.Errorf("unsupported URL scheme %q in %q (need http or https)", parsed.Scheme, raw)
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("server URL %q has no host", raw)
	}

	return strings.TrimSuffix(parsed.String(), "/"), nil
}

// isLoopbackHost reports whether host refers to the local machine.
func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ParseHeader splits a "Name: Value" argument as accepted by --header.
func ParseHeader(arg string) (name, value string, err error) {
	idx := strings.Index(arg, ":")
	if idx <= 0 {
		return "", "", fmt.Errorf("invalid header %q (expected \"Name: Value\")", arg)
	}

	name = strings.TrimSpace(arg[:idx])
	value = strings.TrimSpace(arg[idx+1:])
	if name == "" {
		return "", "", fmt.Errorf("invalid header %q: empty name", arg)
	}
	return name, value, nil
}

// ParseTransport validates a --transport flag value.
func ParseTransport(raw string) (TransportType, error) {
	switch TransportType(strings.ToLower(raw)) {
	case TransportSSE:
		return TransportSSE, nil
	case TransportHTTP, "streamable-http":
		return TransportHTTP, nil
	default:
		return "", fmt.Errorf("unsupported transport %q (expected sse or http)", raw)
	}
}
