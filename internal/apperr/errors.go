// Package apperr provides the typed failures returned by the service
// layer.  Handlers translate a Kind into an HTTP status; callers branch
// on Kind with errors.As or on a sentinel with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable failure class.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindAlreadyExists      Kind = "ALREADY_EXISTS"
	KindPermissionDenied   Kind = "PERMISSION_DENIED"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindConflict           Kind = "CONFLICT"
	KindInternal           Kind = "INTERNAL"
)

// HTTPStatus maps a Kind to the response status used by the API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindAlreadyExists:
		return http.StatusConflict
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type with structured metadata.
type Error struct {
	Kind    Kind
	Message string
	Meta    map[string]string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same Kind, so that
// errors.Is(err, apperr.RateLimited("")) works regardless of message.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithMeta attaches key/value context and returns e.
func (e *Error) WithMeta(kv ...string) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]string, len(kv)/2)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		e.Meta[kv[i]] = kv[i+1]
	}
	return e
}

func Validation(msg string) *Error         { return New(KindValidation, msg) }
func NotFound(msg string) *Error           { return New(KindNotFound, msg) }
func PreconditionFailed(msg string) *Error { return New(KindPreconditionFailed, msg) }
func AlreadyExists(msg string) *Error      { return New(KindAlreadyExists, msg) }
func PermissionDenied(msg string) *Error   { return New(KindPermissionDenied, msg) }
func RateLimited(msg string) *Error        { return New(KindRateLimited, msg) }
func Conflict(msg string, cause error) *Error {
	return Wrap(KindConflict, msg, cause)
}
func Internal(msg string, cause error) *Error {
	return Wrap(KindInternal, msg, cause)
}

// KindOf returns the Kind carried by err, or KindInternal when err is not
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
