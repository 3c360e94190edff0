// Package fault defines the error classification shared by the review pipeline.
// Components wrap underlying errors into a Kind so callers can decide whether
// to retry, skip a file, or abort a run without string matching.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a pipeline error.
type Kind int

const (
	// Unknown is the zero value for unclassified errors
	Unknown Kind = iota

	// InvalidPayload marks a malformed inbound webhook payload
	InvalidPayload

	// UnsupportedEvent marks a webhook event type or action the pipeline ignores
	UnsupportedEvent

	// UpstreamUnavailable marks a transient network or 5xx failure from the hosting platform
	UpstreamUnavailable

	// NotFound marks a pull request or resource that no longer exists
	NotFound

	// RateLimited marks throttling by the hosting platform or an LLM provider
	RateLimited

	// AuthError marks rejected credentials; never retried
	AuthError

	// UpstreamError marks a non-auth failure from an LLM provider
	UpstreamError

	// Timeout marks an exceeded request deadline
	Timeout

	// DiffTooLarge marks a diff unit that cannot fit a provider budget
	DiffTooLarge
)

// String returns a stable name for the kind
func (k Kind) String() string {
	switch k {
	case InvalidPayload:
		return "invalid_payload"
	case UnsupportedEvent:
		return "unsupported_event"
	case UpstreamUnavailable:
		return "upstream_unavailable"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	case AuthError:
		return "auth_error"
	case UpstreamError:
		return "upstream_error"
	case Timeout:
		return "timeout"
	case DiffTooLarge:
		return "diff_too_large"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "github.list_files"
	Err  error  // underlying cause, may be nil

	// RetryAfter carries the platform's advertised reset delay for
	// RateLimited errors; zero means no advertised delay.
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a fault with the same kind, enabling
// errors.Is(err, &fault.Error{Kind: fault.RateLimited}) style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a fault without an underlying cause
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from an error chain, Unknown if absent
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// IsKind reports whether the error chain carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// RetryAfterOf returns the advertised retry delay from the error chain, if any
func RetryAfterOf(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

// Retryable reports whether the error is transient per the pipeline's
// retry policy. AuthError and NotFound are terminal.
func Retryable(err error) bool {
	switch KindOf(err) {
	case UpstreamUnavailable, RateLimited, Timeout, UpstreamError:
		return true
	default:
		return false
	}
}

// RetryBudget returns how many retries the error's kind earns given the
// configured ceiling. Rate limiting and upstream outages get the full
// ceiling; provider errors and timeouts a single retry; everything else none.
func RetryBudget(err error, ceiling int) int {
	switch KindOf(err) {
	case RateLimited, UpstreamUnavailable:
		return ceiling
	case UpstreamError, Timeout:
		return 1
	default:
		return 0
	}
}
