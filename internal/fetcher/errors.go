package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"finreport/internal/apperr"
)

// Kind is the failure class of an external fetch.
type Kind string

const (
	KindTimeout Kind = "TIMEOUT"
	KindHTTP4xx Kind = "HTTP_4XX"
	KindHTTP5xx Kind = "HTTP_5XX"
	KindNetwork Kind = "NETWORK"
	KindParse   Kind = "PARSE"
	KindEmpty   Kind = "EMPTY"
)

// Error is returned by every fetcher. Message never carries request URLs,
// which may hold API keys.
type Error struct {
	Source     string
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s (status %d): %s", e.Source, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Source, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// AppError maps the fetch failure onto the HTTP error kinds: provider 4xx
// answers become 400, everything else upstream becomes 502.
func (e *Error) AppError() *apperr.Error {
	msg := fmt.Sprintf("%s: %s", e.Source, e.Message)
	switch e.Kind {
	case KindHTTP4xx, KindEmpty:
		return &apperr.Error{Kind: apperr.KindUpstream, Message: msg, Err: e}
	default:
		return &apperr.Error{Kind: apperr.KindUpstreamGateway, Message: msg, Err: e}
	}
}

func parseError(source, msg string, err error) *Error {
	return &Error{Source: source, Kind: KindParse, Message: msg, Err: err}
}

// classify turns a transport error into a typed fetch error, dropping the URL.
func classify(source string, err error) *Error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Source: source, Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Source: source, Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Source: source, Kind: KindNetwork, Message: "request cancelled", Err: err}
	}
	return &Error{Source: source, Kind: KindNetwork, Message: "network error", Err: err}
}

func statusError(source string, status int, detail string) *Error {
	kind := KindHTTP5xx
	if status >= 400 && status < 500 {
		kind = KindHTTP4xx
	}
	if detail == "" {
		detail = "provider returned an error"
	}
	return &Error{Source: source, Kind: kind, StatusCode: status, Message: detail}
}
