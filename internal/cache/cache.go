package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"finreport/internal/logger"
	"finreport/internal/metrics"
	"finreport/internal/storage"

	"go.uber.org/zap"
)

// DefaultTTL applies when Set is called with a non-positive ttl.
const DefaultTTL = time.Hour

// HotTier is an optional fast layer consulted before the database.
type HotTier interface {
	GetPayload(ctx context.Context, source, paramsHash string) ([]byte, bool, error)
	SetPayload(ctx context.Context, source, paramsHash string, data []byte, ttl time.Duration) error
	DeletePayload(ctx context.Context, source, paramsHash string) error
}

// Cache stores fetched payloads in external_data_cache keyed by (source, params_hash).
type Cache struct {
	db         *sql.DB
	driver     string
	hot        HotTier
	now        func() time.Time
	defaultTTL time.Duration
}

type Option func(*Cache)

// WithHotTier puts a redis tier in front of the database.
func WithHotTier(h HotTier) Option {
	return func(c *Cache) { c.hot = h }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

func New(db *sql.DB, driver string, opts ...Option) *Cache {
	c := &Cache{
		db:         db,
		driver:     strings.ToLower(driver),
		now:        time.Now,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize creates the table and indices when absent.
func (c *Cache) Initialize() error {
	return storage.Migrate(c.db, c.driver)
}

// ParamsHash is the hex sha256 of the canonical JSON of params. encoding/json
// writes map keys sorted, so insertion order never changes the digest.
func ParamsHash(params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the cached payload. An expired row is deleted and reported as a miss.
func (c *Cache) Get(ctx context.Context, source string, params map[string]any) (json.RawMessage, bool, error) {
	hash, err := ParamsHash(params)
	if err != nil {
		return nil, false, err
	}
	log := logger.FromContext(ctx)

	if c.hot != nil {
		if data, ok := c.hotGet(ctx, source, hash); ok {
			metrics.CacheHits.WithLabelValues(source, "redis").Inc()
			return data, true, nil
		}
	}

	var (
		data      string
		expiresAt storage.Timestamp
	)
	err = c.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM external_data_cache WHERE source = ? AND params_hash = ?`,
		source, hash,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.CacheMisses.WithLabelValues(source).Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup cache: %w", err)
	}

	now := c.now().UTC()
	if !expiresAt.After(now) {
		if _, err := c.db.ExecContext(ctx,
			`DELETE FROM external_data_cache WHERE source = ? AND params_hash = ?`, source, hash,
		); err != nil {
			log.Warn("delete expired cache row failed", zap.String("source", source), zap.Error(err))
		}
		if c.hot != nil {
			_ = c.hot.DeletePayload(ctx, source, hash)
		}
		metrics.CacheMisses.WithLabelValues(source).Inc()
		return nil, false, nil
	}

	if c.hot != nil {
		if err := c.hotSet(ctx, source, hash, json.RawMessage(data), expiresAt.Time); err != nil {
			log.Warn("hot tier fill failed", zap.String("source", source), zap.Error(err))
		}
	}
	metrics.CacheHits.WithLabelValues(source, "sql").Inc()
	return json.RawMessage(data), true, nil
}

// Set inserts or replaces the payload for (source, params). A value that cannot
// be encoded as JSON is logged and skipped.
func (c *Cache) Set(ctx context.Context, source string, params map[string]any, value any, ttl time.Duration) error {
	log := logger.FromContext(ctx)
	raw, err := json.Marshal(value)
	if err != nil {
		log.Error("cache value is not serializable", zap.String("source", source), zap.Error(err))
		return nil
	}
	hash, err := ParamsHash(params)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now().UTC()
	expiresAt := now.Add(ttl)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, c.upsertStmt(),
		source, hash, string(raw), storage.FormatTime(now), storage.FormatTime(expiresAt),
	); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache entry: %w", err)
	}

	if c.hot != nil {
		if err := c.hotSet(ctx, source, hash, raw, expiresAt); err != nil {
			log.Warn("hot tier store failed", zap.String("source", source), zap.Error(err))
		}
	}
	log.Debug("cached external data", zap.String("source", source), zap.String("params_hash", hash), zap.Duration("ttl", ttl))
	return nil
}

// hotEntry is the redis value. The key TTL follows the wall clock, so the
// expiry travels with the payload and is checked against the cache clock.
type hotEntry struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Data      json.RawMessage `json:"data"`
}

func (c *Cache) hotSet(ctx context.Context, source, hash string, data json.RawMessage, expiresAt time.Time) error {
	ttl := expiresAt.Sub(c.now().UTC())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(hotEntry{ExpiresAt: expiresAt.UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("encode hot entry: %w", err)
	}
	return c.hot.SetPayload(ctx, source, hash, raw, ttl)
}

// hotGet returns a live hot-tier payload. Expired or unreadable entries are
// dropped so the database decides.
func (c *Cache) hotGet(ctx context.Context, source, hash string) (json.RawMessage, bool) {
	log := logger.FromContext(ctx)
	raw, ok, err := c.hot.GetPayload(ctx, source, hash)
	if err != nil {
		log.Warn("hot tier lookup failed", zap.String("source", source), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entry hotEntry
	if err := json.Unmarshal(raw, &entry); err != nil || len(entry.Data) == 0 {
		log.Warn("discarding malformed hot tier entry", zap.String("source", source), zap.Error(err))
		_ = c.hot.DeletePayload(ctx, source, hash)
		return nil, false
	}
	if !entry.ExpiresAt.After(c.now().UTC()) {
		_ = c.hot.DeletePayload(ctx, source, hash)
		return nil, false
	}
	return entry.Data, true
}

func (c *Cache) upsertStmt() string {
	if c.driver == "mysql" {
		return `INSERT INTO external_data_cache (source, params_hash, data, timestamp, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE data = VALUES(data), timestamp = VALUES(timestamp), expires_at = VALUES(expires_at)`
	}
	return `INSERT INTO external_data_cache (source, params_hash, data, timestamp, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source, params_hash) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp, expires_at = excluded.expires_at`
}

// DeleteExpired removes every row whose expiry has passed.
func (c *Cache) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM external_data_cache WHERE expires_at <= ?`, storage.FormatTime(c.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
