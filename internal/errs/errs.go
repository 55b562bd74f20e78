package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, machine-readable error category shared across the
// ledger and orders services and carried over the wire.
type Kind string

const (
	KindNotFound              Kind = "NOT_FOUND"
	KindInvalidRequest        Kind = "INVALID_REQUEST"
	KindInvariantViolation    Kind = "INVARIANT_VIOLATION"
	KindInsufficientStock     Kind = "INSUFFICIENT_STOCK"
	KindQuotaExceeded         Kind = "QUOTA_EXCEEDED"
	KindCartExpired           Kind = "CART_EXPIRED"
	KindInvalidTransition     Kind = "INVALID_TRANSITION"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindAlreadyDeleted        Kind = "ALREADY_DELETED"
)

// Error pairs a Kind with a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Errors without a Kind report DEPENDENCY_UNAVAILABLE: anything untyped
// reaching a service boundary is an infrastructure failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependencyUnavailable
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvariantViolation:
		return http.StatusConflict
	case KindDependencyUnavailable:
		return http.StatusBadGateway
	case KindInvalidRequest, KindInsufficientStock, KindQuotaExceeded,
		KindCartExpired, KindInvalidTransition, KindAlreadyDeleted:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// FromWire rebuilds a typed error from a response body decoded by an
// HTTP client, so kinds survive the hop between services.
func FromWire(kind, message string) *Error {
	return &Error{Kind: Kind(kind), Message: message}
}
