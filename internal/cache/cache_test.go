package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"finreport/internal/config"
	"finreport/internal/redis"
	"finreport/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func setupCache(t *testing.T, opts ...Option) (*Cache, *sql.DB) {
	t.Helper()
	db, err := storage.Open(&config.Config{DBDriver: "sqlite3", DBFilePath: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	c := New(db, "sqlite3", opts...)
	if err := c.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c, db
}

func rowCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM external_data_cache`).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestParamsHashIgnoresInsertionOrder(t *testing.T) {
	p1 := map[string]any{}
	p1["series_ids"] = "GNPCA"
	p1["start"] = "20200101"
	p1["nested"] = map[string]any{"b": 1, "a": []any{"x", "y"}}

	p2 := map[string]any{}
	p2["nested"] = map[string]any{"a": []any{"x", "y"}, "b": 1}
	p2["start"] = "20200101"
	p2["series_ids"] = "GNPCA"

	h1, err := ParamsHash(p1)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := ParamsHash(p2)
	if h1 != h2 {
		t.Fatalf("equal params hashed differently: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 32-byte hex digest, got %d chars", len(h1))
	}
	h3, _ := ParamsHash(map[string]any{"series_ids": "GDP"})
	if h3 == h1 {
		t.Fatalf("different params produced the same hash")
	}
}

func TestSetThenGetRespectsTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c, db := setupCache(t, WithClock(clock.Now))
	ctx := context.Background()
	params := map[string]any{"symbol": "GNPCA"}
	value := map[string]any{"observations": []any{map[string]any{"date": "2020-01-01", "value": "1.5"}}}

	if err := c.Set(ctx, "fred", params, value, 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, err := c.Get(ctx, "fred", params)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["observations"] == nil {
		t.Fatalf("payload lost observations: %s", raw)
	}

	clock.Advance(10*time.Second + time.Millisecond)
	if _, ok, err := c.Get(ctx, "fred", params); err != nil || ok {
		t.Fatalf("expected miss after expiry, got ok=%v err=%v", ok, err)
	}
	if n := rowCount(t, db); n != 0 {
		t.Fatalf("expired row should be deleted, %d left", n)
	}
}

func TestSetReplacesExistingEntry(t *testing.T) {
	c, db := setupCache(t)
	ctx := context.Background()
	params := map[string]any{"symbol": "AAPL"}
	if err := c.Set(ctx, "yfinance", params, "first", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set(ctx, "yfinance", params, "second", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, _ := c.Get(ctx, "yfinance", params)
	if !ok || string(raw) != `"second"` {
		t.Fatalf("expected last writer to win, got %s", raw)
	}
	if n := rowCount(t, db); n != 1 {
		t.Fatalf("expected a single row, got %d", n)
	}

	var inserted, expires storage.Timestamp
	if err := db.QueryRow(`SELECT timestamp, expires_at FROM external_data_cache`).Scan(&inserted, &expires); err != nil {
		t.Fatalf("read timestamps: %v", err)
	}
	if got := expires.Sub(inserted.Time); got != DefaultTTL {
		t.Fatalf("expected default ttl, got %v", got)
	}
}

func TestSetSkipsUnserializableValue(t *testing.T) {
	c, db := setupCache(t)
	if err := c.Set(context.Background(), "fred", map[string]any{"symbol": "X"}, math.Inf(1), time.Minute); err != nil {
		t.Fatalf("expected silent skip, got %v", err)
	}
	if n := rowCount(t, db); n != 0 {
		t.Fatalf("nothing should be stored, got %d rows", n)
	}
}

func TestDeleteExpiredSweepsOnlyStaleRows(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c, db := setupCache(t, WithClock(clock.Now))
	ctx := context.Background()
	_ = c.Set(ctx, "fred", map[string]any{"symbol": "A"}, 1, time.Minute)
	_ = c.Set(ctx, "fred", map[string]any{"symbol": "B"}, 2, time.Hour)

	clock.Advance(2 * time.Minute)
	n, err := c.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 || rowCount(t, db) != 1 {
		t.Fatalf("expected one stale row removed, removed=%d left=%d", n, rowCount(t, db))
	}
}

// memoryTier keeps payloads in a map and ignores key TTLs, like a redis
// whose clock runs behind the cache clock.
type memoryTier struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (m *memoryTier) GetPayload(_ context.Context, source, paramsHash string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[source+":"+paramsHash]
	return data, ok, nil
}

func (m *memoryTier) SetPayload(_ context.Context, source, paramsHash string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[source+":"+paramsHash] = data
	return nil
}

func (m *memoryTier) DeletePayload(_ context.Context, source, paramsHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, source+":"+paramsHash)
	return nil
}

func (m *memoryTier) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestHotTierHitHonoursExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	tier := &memoryTier{entries: map[string][]byte{}}
	c, db := setupCache(t, WithClock(clock.Now), WithHotTier(tier))
	ctx := context.Background()
	params := map[string]any{"symbol": "SOFR"}

	if err := c.Set(ctx, "ny_fed", params, map[string]any{"v": 1}, 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	// serve from the hot tier only
	if _, err := db.Exec(`DELETE FROM external_data_cache`); err != nil {
		t.Fatalf("clear table: %v", err)
	}
	raw, ok, err := c.Get(ctx, "ny_fed", params)
	if err != nil || !ok || string(raw) != `{"v":1}` {
		t.Fatalf("expected hot tier hit, got %s ok=%v err=%v", raw, ok, err)
	}

	clock.Advance(10 * time.Second)
	if _, ok, err := c.Get(ctx, "ny_fed", params); err != nil || ok {
		t.Fatalf("expected miss once expires_at passed, got ok=%v err=%v", ok, err)
	}
	if n := tier.size(); n != 0 {
		t.Fatalf("expired hot entry should be dropped, %d left", n)
	}
}

func TestHotTierFilledFromDatabaseKeepsRowExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c, _ := setupCache(t, WithClock(clock.Now))
	ctx := context.Background()
	params := map[string]any{"symbol": "GNPCA"}
	if err := c.Set(ctx, "fred", params, map[string]any{"v": 2}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	// a hot tier attached later is filled on the first database hit
	tier := &memoryTier{entries: map[string][]byte{}}
	c.hot = tier
	clock.Advance(30 * time.Second)
	if _, ok, err := c.Get(ctx, "fred", params); err != nil || !ok {
		t.Fatalf("expected database hit, got ok=%v err=%v", ok, err)
	}
	if tier.size() != 1 {
		t.Fatalf("hot tier was not filled")
	}

	clock.Advance(30 * time.Second)
	if _, ok, err := c.Get(ctx, "fred", params); err != nil || ok {
		t.Fatalf("expected miss at the row expiry, got ok=%v err=%v", ok, err)
	}
}

func TestRedisHotTier(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb, err := redis.Dial(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	if err != nil {
		t.Fatalf("dial redis: %v", err)
	}
	defer rdb.Close()

	c, db := setupCache(t, WithHotTier(rdb))
	ctx := context.Background()
	params := map[string]any{"symbol": "hot-" + time.Now().Format("150405.000000")}
	if err := c.Set(ctx, "fred", params, map[string]any{"v": 1}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	// drop the SQL row so the hit must come from redis
	if _, err := db.Exec(`DELETE FROM external_data_cache`); err != nil {
		t.Fatalf("clear table: %v", err)
	}
	raw, ok, err := c.Get(ctx, "fred", params)
	if err != nil || !ok || string(raw) != `{"v":1}` {
		t.Fatalf("expected redis hit, got %s ok=%v err=%v", raw, ok, err)
	}
	hash, _ := ParamsHash(params)
	_ = rdb.DeletePayload(ctx, "fred", hash)
}
