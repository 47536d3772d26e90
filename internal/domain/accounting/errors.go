package accounting

import (
	"fmt"
	"time"
)

// Machine-readable error codes carried by the taxonomy below.
const (
	CodeConnectionFailed    = "CONNECTION_FAILED"
	CodeTokenRefreshFailed  = "TOKEN_REFRESH_FAILED"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotImplemented      = "NOT_IMPLEMENTED"
)

// ProviderError is a provider-side rejection: validation failures,
// not-found, permission errors. It is never retried automatically.
type ProviderError struct {
	Provider   ProviderID
	Code       string
	Message    string
	StatusCode int
	Raw        string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (%s, status %d)", e.Provider, e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

// NotImplementedError marks an operation not supported for a provider.
// It is surfaced immediately, never silently degraded.
func NotImplementedError(provider ProviderID, op string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     CodeNotImplemented,
		Message:  fmt.Sprintf("%s is not implemented for %s", op, provider),
	}
}

// ConnectionError means the initial OAuth handshake failed, usually a bad
// or expired authorization code. The caller must restart the OAuth flow.
type ConnectionError struct {
	Provider ProviderID
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TokenRefreshError means the refresh token is no longer usable. This is
// terminal for the connection; only a fresh connect recovers it.
type TokenRefreshError struct {
	Provider ProviderID
	Message  string
}

func (e *TokenRefreshError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: failed to refresh access token, re-authentication required", e.Provider)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// RateLimitError carries the provider's advertised retry-after duration
// when present. Whether and when to retry is the caller's decision.
type RateLimitError struct {
	Provider   ProviderID
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limit exceeded, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limit exceeded", e.Provider)
}

// UnavailableError is a transport failure or provider 5xx. Reads may be
// retried a bounded number of times; creates surface it immediately.
type UnavailableError struct {
	Provider ProviderID
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: provider unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// UnauthorizedError signals a 401 from a resource call: the access token
// was rejected. The connection registry reacts with a single
// refresh-and-retry before giving up with a TokenRefreshError.
type UnauthorizedError struct {
	Provider ProviderID
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("%s: access token rejected", e.Provider)
}
