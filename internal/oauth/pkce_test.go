package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePKCE(t *testing.T) {
	pkce, err := GeneratePKCE()
	require.NoError(t, err)

	// 32 random bytes encode to 43 base64url characters.
	assert.Len(t, pkce.CodeVerifier, 43)
	assert.Equal(t, "S256", pkce.CodeChallengeMethod)

	hash := sha256.Sum256([]byte(pkce.CodeVerifier))
	expected := base64.RawURLEncoding.EncodeToString(hash[:])
	assert.Equal(t, expected, pkce.CodeChallenge)
}

func TestGeneratePKCE_Unique(t *testing.T) {
	a, err := GeneratePKCE()
	require.NoError(t, err)
	b, err := GeneratePKCE()
	require.NoError(t, err)

	assert.NotEqual(t, a.CodeVerifier, b.CodeVerifier)
}

func TestChallengeFromVerifier(t *testing.T) {
	pkce, err := GeneratePKCE()
	require.NoError(t, err)

	assert.Equal(t, pkce.CodeChallenge, ChallengeFromVerifier(pkce.CodeVerifier))
}

func TestGenerateState(t *testing.T) {
	state, err := GenerateState()
	require.NoError(t, err)
	assert.Len(t, state, 43)

	other, err := GenerateState()
	require.NoError(t, err)
	assert.NotEqual(t, state, other)
}
