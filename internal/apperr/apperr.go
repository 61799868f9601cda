package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the HTTP surface.
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindAuth            Kind = "AUTH"
	KindNotFound        Kind = "NOT_FOUND"
	KindBadRequest      Kind = "BAD_REQUEST"
	KindUpstream        Kind = "UPSTREAM"
	KindUpstreamGateway Kind = "UPSTREAM_GATEWAY"
	KindLLMBlocked      Kind = "LLM_BLOCKED"
	KindLLMRateLimited  Kind = "LLM_RATE_LIMITED"
	KindLLMInternal     Kind = "LLM_INTERNAL"
	KindInternal        Kind = "INTERNAL"
)

// Error is the typed error carried up to the handlers.
type Error struct {
	Kind    Kind
	Message string
	// Status overrides the default HTTP status of Kind when non-zero.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status reports the HTTP status for the error.
func (e *Error) Status() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return StatusFor(e.Kind)
}

// StatusFor maps a kind to its HTTP status.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest, KindUpstream:
		return http.StatusBadRequest
	case KindUpstreamGateway:
		return http.StatusBadGateway
	case KindLLMBlocked, KindLLMRateLimited, KindLLMInternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Converter is implemented by package-specific error types that know their kind.
type Converter interface {
	AppError() *Error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// From converts any error into an *Error, defaulting to INTERNAL.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	var conv Converter
	if errors.As(err, &conv) {
		return conv.AppError()
	}
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// Is reports whether err converts to the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return From(err).Kind == kind
}
