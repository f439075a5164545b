package routing

import (
	"errors"
	"fmt"
)

// ErrorKind classifies routing failures. Handlers map kinds onto the
// call-control or JSON error surface; the resolver maps some of them onto
// configured fallback actions first.
type ErrorKind string

const (
	// KindUnauthorized marks a bad or missing credential or signature.
	KindUnauthorized ErrorKind = "unauthorized"

	// KindStaleRequest marks a webhook timestamp outside the tolerance window.
	KindStaleRequest ErrorKind = "stale_request"

	// KindRateLimited marks a request rejected by the rate limiter.
	KindRateLimited ErrorKind = "rate_limited"

	// KindNotFound marks a dialed identifier that resolves to nothing.
	KindNotFound ErrorKind = "not_found"

	// KindUnavailable marks a target that exists but cannot take the call:
	// inactive, no members, provider not configured.
	KindUnavailable ErrorKind = "unavailable"

	// KindConfigurationError marks broken configuration: cross-tenant
	// references, recursion depth exceeded, malformed routing config.
	KindConfigurationError ErrorKind = "configuration_error"

	// KindLockTimeout marks a failure to safely read or mutate ring-group
	// state within the bounded wait.
	KindLockTimeout ErrorKind = "lock_timeout"
)

// Error is a classified routing failure.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a classified routing error.
func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind ErrorKind, err error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf extracts the ErrorKind from err, or empty when err is not a
// routing error.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
