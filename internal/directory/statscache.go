// internal/directory/statscache.go
package directory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"lending-queue/internal/common/logger"
	"lending-queue/internal/models"
)

const statsCacheKey = "lending-queue:stats"

// StatsCache wraps a Directory and serves the tab-badge counters from
// Redis. Every other call passes straight through. The cache is invalidated
// after a payout batch so the badges move with the queue.
type StatsCache struct {
	Directory
	rdb *redis.Client
	ttl time.Duration
	log logger.Logger
}

func NewStatsCache(inner Directory, rdb *redis.Client, ttl time.Duration, log logger.Logger) *StatsCache {
	return &StatsCache{
		Directory: inner,
		rdb:       rdb,
		ttl:       ttl,
		log:       log,
	}
}

func (c *StatsCache) Stats(ctx context.Context) (*models.Stats, error) {
	if cached, err := c.rdb.Get(ctx, statsCacheKey).Result(); err == nil {
		var stats models.Stats
		if err := json.Unmarshal([]byte(cached), &stats); err == nil {
			return &stats, nil
		}
		// Unreadable payload, fall through to the source.
		c.rdb.Del(ctx, statsCacheKey)
	}

	stats, err := c.Directory.Stats(ctx)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(stats); err == nil {
		if err := c.rdb.Set(ctx, statsCacheKey, payload, c.ttl).Err(); err != nil {
			c.log.WithError(err).Warn("stats cache write failed", nil)
		}
	}
	return stats, nil
}

// Invalidate drops the cached counters, forcing the next Stats call back to
// the source.
func (c *StatsCache) Invalidate(ctx context.Context) {
	if err := c.rdb.Del(ctx, statsCacheKey).Err(); err != nil {
		c.log.WithError(err).Warn("stats cache invalidation failed", nil)
	}
}
