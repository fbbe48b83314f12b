package errors

import (
	"errors"
	"fmt"
)

// Common error types for the identity core
var (
	// Storage errors
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Input errors
	ErrInvalidInput = errors.New("invalid input")

	// Token errors. ErrTokenExpired and ErrTokenRevoked refine ErrInvalidToken
	// for internal callers; the HTTP boundary collapses all three into a single
	// "invalid token" response so callers cannot probe revocation state.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")

	// Tenant errors
	ErrTenantRequired   = errors.New("tenant required")
	ErrTenantNotAllowed = errors.New("tenant not allowed")

	// OAuth flow errors
	ErrInvalidOAuthState = errors.New("invalid oauth state")
	ErrMissingClaims     = errors.New("missing claims")

	// Trust boundary errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// General errors
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
