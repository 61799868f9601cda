package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPayloadRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client, err := Dial(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	hash := "test-" + time.Now().Format("150405.000000")
	if err := client.SetPayload(ctx, "fred", hash, []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, ok, err := client.GetPayload(ctx, "fred", hash)
	if err != nil || !ok || string(data) != `{"a":1}` {
		t.Fatalf("unexpected get: %q %v %v", data, ok, err)
	}
	if err := client.DeletePayload(ctx, "fred", hash); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := client.GetPayload(ctx, "fred", hash); ok {
		t.Fatalf("payload should be gone")
	}
}

func TestNilClientReportsNotInitialized(t *testing.T) {
	var c *Client
	if _, _, err := c.GetPayload(context.Background(), "fred", "x"); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}
