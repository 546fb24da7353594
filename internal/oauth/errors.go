package oauth

import "errors"

// ErrAuthRequired is returned when no usable credentials exist and an
// interactive authorization flow is needed.
var ErrAuthRequired = errors.New("authentication required")

// ErrVerifierMissing is returned when a code exchange is attempted but the
// persisted code verifier is gone. This indicates local state corruption
// (the flow files were cleaned mid-flow or consumed twice), not a server
// side exchange failure.
var ErrVerifierMissing = errors.New("code verifier missing: authorization flow state is corrupted")

// AuthFailedError wraps a failure of the interactive authorization flow
// itself (denied consent, state mismatch, exchange rejection).
type AuthFailedError struct {
	Stage string
	Err   error
}

func (e *AuthFailedError) Error() string {
	return "authorization failed during " + e.Stage + ": " + e.Err.Error()
}

func (e *AuthFailedError) Unwrap() error {
	return e.Err
}

// IsAuthRequiredError checks if an error from the remote transport
// indicates missing or rejected credentials. Typed sentinels are checked
// first; transports that flatten the HTTP response into the error text
// are handled by the bearer challenge extraction.
func IsAuthRequiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthRequired) {
		return true
	}
	return ChallengeFromError(err) != nil
}
