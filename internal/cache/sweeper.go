package cache

import (
	"context"
	"time"

	"finreport/internal/logger"
	"finreport/internal/metrics"

	"go.uber.org/zap"
)

const DefaultSweepInterval = 30 * time.Minute

// StartSweeper periodically deletes expired rows until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go c.sweepLoop(ctx, interval)
}

func (c *Cache) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Cache) sweep(ctx context.Context) {
	n, err := c.DeleteExpired(ctx)
	if err != nil {
		logger.Error("cache sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.CacheEvictions.Add(float64(n))
		logger.Info("expired cache rows removed", zap.Int64("rows", n))
	}
}
