package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebSearchFetchesURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<p>FOMC statement</p>"))
	}))
	defer srv.Close()

	ws := &webSearchTool{}
	out, err := ws.run(context.Background(), &webSearchParams{Query: srv.URL})
	if err != nil || !strings.Contains(out, "FOMC statement") {
		t.Fatalf("unexpected result %q %v", out, err)
	}
}

func TestWebSearchWithoutProviders(t *testing.T) {
	ws := &webSearchTool{}
	if _, err := ws.run(context.Background(), &webSearchParams{Query: "latest CPI"}); err == nil {
		t.Fatalf("expected error without providers")
	}
	if _, err := ws.run(context.Background(), &webSearchParams{Query: "  "}); err == nil {
		t.Fatalf("expected error on empty query")
	}
}

func TestLooksLikeURL(t *testing.T) {
	if !looksLikeURL("HTTPS://example.com") || looksLikeURL("ftp://x") || looksLikeURL("what is sofr") {
		t.Fatalf("url detection wrong")
	}
}
