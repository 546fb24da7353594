package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code
	// verifier. 32 bytes provides 256 bits of entropy.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for the OAuth state
	// parameter. 32 bytes encodes to 43 base64url characters.
	stateBytes = 32
)

// GeneratePKCE generates a new PKCE code verifier and challenge.
// The verifier is 32 random bytes base64url-encoded; the challenge is the
// S256 (SHA256) hash of the verifier.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)

	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, nil
}

// ChallengeFromVerifier recomputes the S256 challenge for a previously
// persisted verifier.
func ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState generates a random state parameter to prevent CSRF and
// link the authorization response back to the original request.
func GenerateState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
