package oauth

import (
	"fmt"
	"regexp"
	"strings"
)

// AuthChallenge is the parsed form of a WWW-Authenticate header. A 401
// carrying one names the authorization server, which is more reliable
// than deriving it from the MCP endpoint URL.
type AuthChallenge struct {
	// Scheme is the authentication scheme, "Bearer" for OAuth 2.0.
	Scheme string

	// Realm is the protection realm, often the authorization server URL.
	Realm string

	// Issuer is the authorization server URL when the challenge names one,
	// taken from a URL-shaped realm.
	Issuer string

	// ResourceMetadataURL points at the protected resource metadata
	// document (RFC 9728).
	ResourceMetadataURL string

	// Scope is the space-separated list of required scopes.
	Scope string

	// Error is the bearer error code, such as "invalid_token".
	Error string

	// ErrorDescription is the human-readable error description.
	ErrorDescription string
}

var challengeParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseWWWAuthenticate parses a WWW-Authenticate header value, such as
//
//	Bearer realm="https://auth.example.com", scope="openid profile"
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &AuthChallenge{Scheme: parts[0]}

	if len(parts) > 1 {
		params := parseChallengeParams(parts[1])

		if realm, ok := params["realm"]; ok {
			challenge.Realm = realm
			if strings.HasPrefix(realm, "http://") || strings.HasPrefix(realm, "https://") {
				challenge.Issuer = realm
			}
		}
		challenge.ResourceMetadataURL = params["resource_metadata"]
		challenge.Scope = params["scope"]
		challenge.Error = params["error"]
		challenge.ErrorDescription = params["error_description"]
	}

	return challenge, nil
}

// parseChallengeParams extracts key="value" pairs from the parameter
// portion of the header.
func parseChallengeParams(paramStr string) map[string]string {
	params := make(map[string]string)
	for _, match := range challengeParamRegex.FindAllStringSubmatch(paramStr, -1) {
		params[strings.ToLower(match[1])] = match[2]
	}
	return params
}

// authErrorPatterns are the phrasings transports use when surfacing an
// HTTP 401 or a rejected bearer token as a plain error.
var authErrorPatterns = []string{
	"401",
	"unauthorized",
	"invalid_token",
	"token expired",
	"token has expired",
	"access token expired",
	"authentication required",
}

// ChallengeFromError extracts a bearer challenge from a transport error.
// Transports flatten the HTTP response into the error text, so when that
// text carries a WWW-Authenticate fragment it is parsed in full;
// otherwise a recognizable 401 or bearer-error phrasing yields a minimal
// challenge. Returns nil for errors that do not indicate an
// authentication failure.
func ChallengeFromError(err error) *AuthChallenge {
	if err == nil {
		return nil
	}

	text := err.Error()
	lower := strings.ToLower(text)

	authLike := false
	for _, pattern := range authErrorPatterns {
		if strings.Contains(lower, pattern) {
			authLike = true
			break
		}
	}
	if !authLike {
		return nil
	}

	if idx := strings.Index(text, "Bearer"); idx >= 0 {
		fragment := text[idx:]
		if end := strings.IndexAny(fragment, "\r\n"); end > 0 {
			fragment = fragment[:end]
		}
		if challenge, parseErr := ParseWWWAuthenticate(fragment); parseErr == nil {
			return challenge
		}
	}

	return &AuthChallenge{Scheme: "Bearer"}
}
