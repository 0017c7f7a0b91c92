// Package errs defines the error kinds that cross component boundaries in
// the position loader. Callers branch on Kind via errors.As, not on string
// matching or sentinel identity.
package errs

import "fmt"

// Kind classifies an Error so callers can decide retry/abort/report
// behavior without parsing messages.
type Kind string

const (
	KindUpstreamUnavailable  Kind = "UPSTREAM_UNAVAILABLE"
	KindUpstreamTimeout      Kind = "UPSTREAM_TIMEOUT"
	KindUpstreamRateLimited  Kind = "UPSTREAM_RATE_LIMITED"
	KindValidation           Kind = "VALIDATION"
	KindDuplicateSnapshot    Kind = "DUPLICATE_SNAPSHOT"
	KindBatchValidation      Kind = "BATCH_VALIDATION"
	KindConcurrencyConflict  Kind = "CONCURRENCY_CONFLICT"
	KindCancelled            Kind = "CANCELLED"
	KindNotFound             Kind = "NOT_FOUND"
	KindInvalidArgument      Kind = "INVALID_ARGUMENT"
	KindInternal             Kind = "INTERNAL"
)

// Error wraps an underlying cause with a Kind so the caller can branch on
// classification rather than string content.
type Error struct {
	Kind   Kind
	Entity string
	Err    error
}

func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Entity, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind wrapping err.
func New(kind Kind, entity string, err error) *Error {
	return &Error{Kind: kind, Entity: entity, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether an upstream error kind warrants a retry; the
// retry stage of pkg/upstream's resilience pipeline uses it to decide which
// failures to retry.
func Retryable(err error) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	switch e.Kind {
	case KindUpstreamUnavailable, KindUpstreamTimeout, KindUpstreamRateLimited, KindConcurrencyConflict:
		return true
	default:
		return false
	}
}
