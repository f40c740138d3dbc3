// Package errors defines the error taxonomy of the wiki core. Every error
// that crosses a component boundary carries a Kind; the HTTP layer is the
// sole translator from kinds to status codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary translation.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindValidationFailed    Kind = "validation_failed"
	KindPermissionDenied    Kind = "permission_denied"
	KindConflict            Kind = "conflict"
	KindBusy                Kind = "busy"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
)

// Error is the typed error used across the core.
type Error struct {
	Kind       Kind
	Op         string // operation that failed, e.g. "registry.Create"
	Message    string // safe to display to clients
	Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Underlying != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Underlying)
	case e.Underlying != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		return e.Message
	}
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a typed error with a display-safe message.
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: "operation failed", Underlying: err}
}

// NotFound builds a KindNotFound error for a named entity.
func NotFound(op, entity, id string) *Error {
	return New(KindNotFound, op, "%s %q not found", entity, id)
}

// Validation builds a KindValidationFailed error.
func Validation(op, format string, args ...interface{}) *Error {
	return New(KindValidationFailed, op, format, args...)
}

// KindOf extracts the kind from any error; plain errors are KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to its HTTP status code per the boundary contract.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindConflict, KindBusy:
		return http.StatusConflict
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Safe returns a client-displayable message for err. Internal errors get a
// generic message so I/O details never leak.
func Safe(err error) string {
	var e *Error
	if stderrors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}
