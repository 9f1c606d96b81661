// Package apperr defines the error taxonomy shared by the engine, the
// stores and the HTTP boundary. Every failure that leaves a service is an
// *Error carrying a Kind; the handler package maps kinds onto status codes
// in one place.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to decide whether to
// retry, re-query or give up.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindCapacityExceeded
	KindInvalidState
	KindGatewayUnavailable
	KindGatewayRejected
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindCapacityExceeded:
		return "CAPACITY_EXCEEDED"
	case KindInvalidState:
		return "INVALID_STATE_TRANSITION"
	case KindGatewayUnavailable:
		return "GATEWAY_UNAVAILABLE"
	case KindGatewayRejected:
		return "GATEWAY_REJECTED"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	default:
		return "INTERNAL_ERROR"
	}
}

// Error is the concrete error type. Msg is safe to show to API clients;
// Err is the wrapped cause and is only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may safely retry the operation.
func (e *Error) Retryable() bool { return e.Kind == KindGatewayUnavailable }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }
func NotFound(format string, args ...any) *Error   { return newf(KindNotFound, format, args...) }
func CapacityExceeded(format string, args ...any) *Error {
	return newf(KindCapacityExceeded, format, args...)
}
func InvalidState(format string, args ...any) *Error { return newf(KindInvalidState, format, args...) }
func Unauthorized(format string, args ...any) *Error { return newf(KindUnauthorized, format, args...) }
func Forbidden(format string, args ...any) *Error    { return newf(KindForbidden, format, args...) }

// GatewayUnavailable wraps a transient upstream failure.
func GatewayUnavailable(err error, format string, args ...any) *Error {
	e := newf(KindGatewayUnavailable, format, args...)
	e.Err = err
	return e
}

// GatewayRejected wraps a definitive upstream refusal.
func GatewayRejected(err error, format string, args ...any) *Error {
	e := newf(KindGatewayRejected, format, args...)
	e.Err = err
	return e
}

// Internal wraps an unexpected failure such as a database error.
func Internal(err error, format string, args ...any) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
