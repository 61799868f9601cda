package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type kindedErr struct{ kind Kind }

func (k kindedErr) Error() string    { return string(k.kind) }
func (k kindedErr) AppError() *Error { return New(k.kind, "converted") }

func TestStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusUnprocessableEntity,
		KindAuth:            http.StatusUnauthorized,
		KindNotFound:        http.StatusNotFound,
		KindBadRequest:      http.StatusBadRequest,
		KindUpstream:        http.StatusBadRequest,
		KindUpstreamGateway: http.StatusBadGateway,
		KindLLMBlocked:      http.StatusServiceUnavailable,
		KindLLMRateLimited:  http.StatusServiceUnavailable,
		KindLLMInternal:     http.StatusServiceUnavailable,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := New(kind, "x").Status(); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestFromUnwrapsConverters(t *testing.T) {
	wrapped := fmt.Errorf("fetch: %w", kindedErr{kind: KindUpstreamGateway})
	if got := From(wrapped); got.Kind != KindUpstreamGateway {
		t.Fatalf("expected UPSTREAM_GATEWAY, got %s", got.Kind)
	}
	if got := From(errors.New("boom")); got.Kind != KindInternal || got.Message != "internal server error" {
		t.Fatalf("unexpected fallback: %+v", got)
	}
	if From(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}

func TestStatusOverride(t *testing.T) {
	e := &Error{Kind: KindLLMInternal, Message: "bad prompt", StatusCode: http.StatusBadRequest}
	if e.Status() != http.StatusBadRequest {
		t.Fatalf("override ignored")
	}
}
