// Package errs implements the typed error taxonomy every component in this
// service reports through: a Kind, a human-readable message, and a
// Retryable hint, so that a single switch at each process boundary (the
// JSON-RPC handler, the ingestion run report) can map a Kind to its
// external representation without string-matching error messages.
package errs

import "fmt"

// Kind enumerates the error classes named in the design.
type Kind string

const (
	KindConfig                     Kind = "kConfig"
	KindAuthUpstream               Kind = "kAuthUpstream"
	KindAuthClient                 Kind = "kAuthClient"
	KindUpstreamThrottled          Kind = "kUpstreamThrottled"
	KindUpstreamTimeout            Kind = "kUpstreamTimeout"
	KindUpstreamInvalid            Kind = "kUpstreamInvalid"
	KindNotIndexed                 Kind = "kNotIndexed"
	KindEmbeddingDimensionMismatch Kind = "kEmbeddingDimensionMismatch"
	KindPersistenceWriteFailed     Kind = "kPersistenceWriteFailed"
	KindHandlerPanic               Kind = "kHandlerPanic"
)

// Error is the common error value produced by every component.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, retryable bool, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

// Wrap builds an Error that carries cause as its chain predecessor.
func Wrap(kind Kind, retryable bool, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns "" and false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if as(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if as(err, &e) {
		return e.Retryable
	}
	return false
}

// as walks err's single-error Unwrap chain for an *Error, a local stand-in
// for errors.As so callers only import this package, not errors, for the
// common case.
func as(err error, target **Error) bool {
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
