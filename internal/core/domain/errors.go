package domain

import (
	"errors"
	"fmt"
	"regexp"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the user lacks permission for this action
	ErrForbidden = errors.New("forbidden")

	// ErrTokenExpired indicates the session token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the session token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrNotConnected indicates the user has no stored provider token
	ErrNotConnected = errors.New("not connected to provider")

	// ErrNotConfigured indicates the provider client credentials are missing
	ErrNotConfigured = errors.New("provider not configured")

	// ErrNoPrincipal indicates the stored token carries no provider principal
	ErrNoPrincipal = errors.New("no provider principal")

	// ErrStateNotFound indicates the state key was never issued or was already consumed
	ErrStateNotFound = errors.New("oauth state not found")

	// ErrStateExpired indicates the state key was found but is past its expiry
	ErrStateExpired = errors.New("oauth state expired")

	// ErrInvalidState indicates the state parameter is missing or malformed
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrProviderUnavailable indicates a network failure or timeout talking to the provider
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrRefreshInProgress indicates another instance holds the refresh lock
	ErrRefreshInProgress = fmt.Errorf("token refresh in progress: %w", ErrProviderUnavailable)

	// ErrStorage indicates the persistence layer failed
	ErrStorage = errors.New("storage error")
)

// TokenExchangeError is returned when the provider token endpoint rejects a
// code or refresh-token grant.
type TokenExchangeError struct {
	Status int
	Body   string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d", e.Status)
}

var secretField = regexp.MustCompile(`("(?:access_token|refresh_token|id_token|client_secret)"\s*:\s*")[^"]*(")`)

// RedactedBody returns the provider response body with token values masked.
func (e *TokenExchangeError) RedactedBody() string {
	body := secretField.ReplaceAllString(e.Body, `${1}[REDACTED]${2}`)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return body
}

// StorageError wraps a failure from a store adapter.
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// IsReconnectRequired reports whether err means the user must connect again.
func IsReconnectRequired(err error) bool {
	if errors.Is(err, ErrNotConnected) {
		return true
	}
	var exErr *TokenExchangeError
	return errors.As(err, &exErr)
}
