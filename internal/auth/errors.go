package auth

import "errors"

// Domain-specific errors for token handling.
var (
	// ErrTokenInvalid covers bad signatures, expiry, wrong issuer and malformed tokens.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrMissingSecret is returned when signing or verifying without a key.
	ErrMissingSecret = errors.New("auth: signing secret is empty")
)
