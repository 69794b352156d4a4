// Package apperr provides the typed domain errors returned by the prospect
// pipeline. Single-prospect operations return these directly; the HTTP layer
// maps Kind to a status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a domain error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAccessDenied
	KindConflict
	KindBadRequest
	KindQuotaExceeded
	KindProviderFailure
	KindAllProvidersFailed
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindProviderFailure:
		return "provider_failure"
	case KindAllProvidersFailed:
		return "all_providers_failed"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a domain error with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindAccessDenied:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindProviderFailure, KindAllProvidersFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a domain error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetails attaches structured details and returns e.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Conflict creates a conflict error.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// BadRequest creates a bad-request error.
func BadRequest(format string, args ...any) *Error {
	return New(KindBadRequest, format, args...)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries a domain error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
