package prodcache

import (
	"errors"
	"fmt"
	"time"
)

// Make sure the error types satisfy the error interface.
var (
	_ error = (*NoSuchProductError)(nil)
	_ error = (*RateLimitedError)(nil)
	_ error = (*HTTPError)(nil)
)

// NoSuchProductError is the error returned by product lookups when the
// barcode exists neither locally nor remotely.
//
// Lookups that fail remotely (rate limit, HTTP error, transport error)
// also surface as NoSuchProductError at the hybrid cache boundary: a
// remote infrastructure problem is indistinguishable from a true absence
// there, so the caller's handling stays simple. The underlying cause is
// reported through the configured logger instead.
type NoSuchProductError struct {
	Barcode string
}

func (err *NoSuchProductError) Error() string {
	return fmt.Sprintf("prodcache: no such product: %q", err.Barcode)
}

// IsNoSuchProductError checks whether a given error is NoSuchProductError.
func IsNoSuchProductError(err error) bool {
	var target *NoSuchProductError
	return errors.As(err, &target)
}

// RateLimitedError is the error returned by the remote client when the
// upstream answers 429 or 503.
type RateLimitedError struct {
	// StatusCode is 429 or 503.
	StatusCode int

	// RetryAfter is the delay advertised by the upstream's Retry-After
	// header, or zero if none was sent.
	RetryAfter time.Duration
}

func (err *RateLimitedError) Error() string {
	if err.RetryAfter > 0 {
		return fmt.Sprintf(
			"prodcache: rate limited by upstream (%d), retry after %v",
			err.StatusCode,
			err.RetryAfter,
		)
	}
	return fmt.Sprintf("prodcache: rate limited by upstream (%d)", err.StatusCode)
}

// IsRateLimitedError checks whether a given error is RateLimitedError.
func IsRateLimitedError(err error) bool {
	var target *RateLimitedError
	return errors.As(err, &target)
}

// HTTPError is the error returned by the remote client on any non-2xx
// response other than 304, 429 and 503.
type HTTPError struct {
	StatusCode int

	// Body is a prefix of the response body, for logging.
	Body string
}

func (err *HTTPError) Error() string {
	return fmt.Sprintf("prodcache: upstream returned %d: %s", err.StatusCode, err.Body)
}

// IsHTTPError checks whether a given error is HTTPError.
func IsHTTPError(err error) bool {
	var target *HTTPError
	return errors.As(err, &target)
}

// IsRetryable reports whether a remote operation that failed with err is
// worth retrying.
//
// 429/503 (RateLimitedError), 5xx and transport-level failures are
// retryable. Other 4xx responses are deterministic client errors that will
// never succeed on retry, so they are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	// RateLimitedError, network errors, everything else.
	return true
}
