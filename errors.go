package authcore

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when the identifier is unknown or the
	// password does not match. The two cases are deliberately indistinguishable
	// so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateIdentifier is returned when a (method, identifier) pair is
	// already bound to an existing user.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	// ErrInvalidToken is returned for malformed tokens and bad signatures, and
	// on the refresh path also for expired refresh tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpired is returned when an access token's expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrReuseDetected is returned when a superseded refresh token is presented
	// again. Every outstanding refresh record belonging to the token's user is
	// revoked before this error is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrMethodNotAllowed is returned by the cookie validation path for any
	// non-GET request. State-changing requests must use the bearer path.
	ErrMethodNotAllowed = errors.New("method not allowed for cookie auth")
	// ErrCorruptCredential is returned when a stored password hash cannot be
	// parsed.
	ErrCorruptCredential = errors.New("stored credential corrupt")
	// ErrAdapterFailure wraps any error surfaced by the adapter. The underlying
	// store error stays reachable through errors.Unwrap.
	ErrAdapterFailure = errors.New("adapter failure")
	// ErrMissingToken is returned when no bearer token or access cookie is
	// present on the request.
	ErrMissingToken = errors.New("missing token")
	// ErrLoginRateLimited is returned when the login throttle denies an attempt.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when the refresh throttle denies an attempt.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrNotSupported is returned when the configured adapter does not implement
	// an optional capability required by the operation.
	ErrNotSupported = errors.New("operation not supported by adapter")
	// ErrEngineNotReady is returned when an engine method is called before the
	// builder finished wiring dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
)

func adapterErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAdapterFailure, err)
}
