// Package apperr defines the small set of typed errors the HTTP boundary
// maps to status codes (§7).
package apperr

import "errors"

// Kind classifies an error for the HTTP boundary's status-code mapping.
type Kind string

const (
	KindBadInput        Kind = "bad_input"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindCreditExhausted Kind = "credit_exhausted"
	KindRateLimited     Kind = "rate_limited"
	KindTransient       Kind = "transient"
	KindInternal        Kind = "internal"
)

// Error is a typed application error carrying a Kind the HTTP boundary
// switches on, plus a message safe to return to the caller.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func BadInput(message string) *Error        { return New(KindBadInput, message) }
func Unauthenticated(message string) *Error { return New(KindUnauthenticated, message) }
func Forbidden(message string) *Error       { return New(KindForbidden, message) }
func CreditExhausted(message string) *Error { return New(KindCreditExhausted, message) }
func RateLimited(message string) *Error     { return New(KindRateLimited, message) }
func Transient(message string, cause error) *Error {
	return Wrap(KindTransient, message, cause)
}
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, defaulting to KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
