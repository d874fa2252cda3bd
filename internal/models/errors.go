package models

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrInsufficientPosition means a SELL asked for more than the ledger holds.
// Under correct hysteresis sequencing this cannot happen, so the trade loop
// treats it as a state-consistency bug and halts the affected symbol.
var ErrInsufficientPosition = errors.New("insufficient position")

// APIError is a venue-level error (non-zero Bitkub error code).
type APIError struct {
	Code    int    `json:"error"`
	Message string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Code)
}

// Bitkub v3 error codes relevant to the retry logic.
const (
	apiCodeInvalidSignature = 6
	apiCodeInvalidTimestamp = 7
	apiCodeInvalidNonce     = 9
	apiCodeRateLimit        = 56
)

// HTTPError is a non-2xx response that carried no parseable venue error.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// RateLimitError is a 429 (or the venue's rate-limit code). RetryAfter is
// zero when the response carried no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// PersistenceError marks a failed durable write. The loop must not keep
// trading past one of these.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTransient reports whether the error is worth a backoff retry: network
// timeouts, connection failures and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return false
}

// IsRateLimited reports whether the error is a rate-limit response. These
// trigger a cooldown without consuming the retry budget.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == apiCodeRateLimit
}

// IsClockSkew reports whether the venue rejected the request for a timestamp
// or signature reason. The client refreshes its clock offset and retries once.
func IsClockSkew(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case apiCodeInvalidSignature, apiCodeInvalidTimestamp, apiCodeInvalidNonce:
		return true
	}
	return false
}

// IsFatal reports whether the error must halt the affected symbol's loop.
func IsFatal(err error) bool {
	var pe *PersistenceError
	return errors.Is(err, ErrInsufficientPosition) || errors.As(err, &pe)
}
