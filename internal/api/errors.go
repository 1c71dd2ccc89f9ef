// Package api provides the HTTP client for the driveman backend server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a backend error for the scheduler's retry policy.
type Kind int

const (
	// KindTransient covers timeouts, refused connections and 5xx responses.
	// The health monitor backs off on these; periodic refreshes simply wait
	// for their next tick.
	KindTransient Kind = iota

	// KindRateLimited covers 429 responses and payloads flagged rateLimited.
	// Refresh tasks that hit this enter a fixed cooldown.
	KindRateLimited

	// KindApplication covers other 4xx responses. Surfaced to the caller for
	// human-triggered actions; never auto-retried.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Error is a classified backend error.
type Error struct {
	Kind       Kind
	StatusCode int // 0 when the failure happened before a response arrived
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" && e.StatusCode > 0 {
		return fmt.Sprintf("backend error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("backend error (%s): %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("backend error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("backend error (%s)", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status code to an error kind.
func classifyStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	default:
		return KindApplication
	}
}

// transportError wraps a pre-response failure (DNS, refused connection,
// timeout). All of these are transient: timeout expiry is treated
// identically to any other transport error.
func transportError(err error) *Error {
	return &Error{Kind: KindTransient, Err: err}
}

// IsTransient reports whether err is a transient network failure.
func IsTransient(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRateLimited reports whether err indicates backend throttling.
func IsRateLimited(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindRateLimited
}

// IsApplication reports whether err is a non-retryable application error.
func IsApplication(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindApplication
}
