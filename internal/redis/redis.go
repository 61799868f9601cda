package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finreport/internal/config"
	"finreport/internal/logger"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client is the hot tier in front of the SQL cache. Payloads are the JSON
// documents stored in external_data_cache, keyed by source and params hash.
type Client struct {
	inner *redis.Client
}

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

// NewRedisClient creates the redis client from app config.
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	return Dial(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

// Dial connects to addr and verifies the server answers.
func Dial(addr, password string, db int) (*Client, error) {
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	logger.Info("redis hot tier connected", zap.String("addr", addr), zap.Int("db", db))
	return &Client{inner: client}, nil
}

func payloadKey(source, paramsHash string) string {
	return fmt.Sprintf("extdata:%s:%s", source, paramsHash)
}

// SetPayload stores a cached payload for its remaining lifetime.
func (c *Client) SetPayload(ctx context.Context, source, paramsHash string, data []byte, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	if ttl <= 0 {
		return nil
	}
	if err := c.inner.Set(ctx, payloadKey(source, paramsHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("set payload: %w", err)
	}
	return nil
}

// GetPayload returns the payload and whether it was present.
func (c *Client) GetPayload(ctx context.Context, source, paramsHash string) ([]byte, bool, error) {
	if c == nil || c.inner == nil {
		return nil, false, errNotInitialized
	}
	data, err := c.inner.Get(ctx, payloadKey(source, paramsHash)).Bytes()
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get payload: %w", err)
	}
	return data, true, nil
}

// DeletePayload removes a payload, e.g. after the SQL row expired.
func (c *Client) DeletePayload(ctx context.Context, source, paramsHash string) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.Del(ctx, payloadKey(source, paramsHash)).Err()
}

// Close closes client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
