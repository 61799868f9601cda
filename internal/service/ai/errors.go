package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"finreport/internal/apperr"

	"google.golang.org/genai"
)

// Kind classifies a failed model call.
type Kind string

const (
	KindAuth        Kind = "AUTH"
	KindRateLimited Kind = "RATE_LIMITED"
	KindBadRequest  Kind = "BAD_REQUEST"
	KindBlocked     Kind = "BLOCKED"
	KindInternal    Kind = "INTERNAL"
)

// LLMError is returned by the gateway for every provider failure.
type LLMError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Reason)
}

func (e *LLMError) Unwrap() error { return e.Err }

// AppError maps the failure onto the HTTP error taxonomy. Provider details
// stay in the log; the message is safe to return to clients.
func (e *LLMError) AppError() *apperr.Error {
	switch e.Kind {
	case KindRateLimited:
		return &apperr.Error{Kind: apperr.KindLLMRateLimited, Message: "language model quota exhausted, retry later", Err: e}
	case KindBlocked:
		msg := "language model refused the request"
		if e.Reason != "" {
			msg += ": " + e.Reason
		}
		return &apperr.Error{Kind: apperr.KindLLMBlocked, Message: msg, Err: e}
	case KindBadRequest:
		return &apperr.Error{Kind: apperr.KindBadRequest, Message: "language model rejected the request parameters", Err: e}
	case KindAuth:
		return &apperr.Error{Kind: apperr.KindLLMInternal, Message: "language model credentials were rejected", Err: e}
	default:
		return &apperr.Error{Kind: apperr.KindLLMInternal, Message: "language model unavailable", Err: e}
	}
}

func newLLMError(kind Kind, reason string, err error) *LLMError {
	return &LLMError{Kind: kind, Reason: reason, Err: err}
}

// mapGenAIError classifies an error returned by the genai client.
func mapGenAIError(err error) *LLMError {
	var existing *LLMError
	if errors.As(err, &existing) {
		return existing
	}
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return newLLMError(KindInternal, "provider call failed", err)
		}
		apiErr = *ptr
	}
	switch {
	case apiErr.Status == "PERMISSION_DENIED" || apiErr.Status == "UNAUTHENTICATED" ||
		apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return newLLMError(KindAuth, "permission denied", err)
	case apiErr.Status == "RESOURCE_EXHAUSTED" || apiErr.Code == http.StatusTooManyRequests:
		return newLLMError(KindRateLimited, "resource exhausted", err)
	case apiErr.Status == "INVALID_ARGUMENT" || apiErr.Code == http.StatusBadRequest:
		return newLLMError(KindBadRequest, "invalid argument", err)
	default:
		return newLLMError(KindInternal, "provider error", err)
	}
}

// mapEinoError classifies errors from the openai and claude wrappers, which
// only surface the provider status inside the message.
func mapEinoError(err error) *LLMError {
	var existing *LLMError
	if errors.As(err, &existing) {
		return existing
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "status code: 401", "status code: 403", "401 unauthorized", "403 forbidden",
		"invalid api key", "invalid x-api-key", "incorrect api key", "permission"):
		return newLLMError(KindAuth, "permission denied", err)
	case containsAny(msg, "status code: 429", "429 too many", "rate limit", "rate_limit", "quota"):
		return newLLMError(KindRateLimited, "rate limited", err)
	case containsAny(msg, "status code: 400", "400 bad request", "invalid_request", "invalid argument"):
		return newLLMError(KindBadRequest, "invalid request", err)
	case containsAny(msg, "content_filter", "content management policy"):
		return newLLMError(KindBlocked, "content_filter", err)
	default:
		return newLLMError(KindInternal, "provider error", err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
