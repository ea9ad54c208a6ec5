package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiterAdapter is a Redis implementation of the RateLimiterRepository port.
type RateLimiterAdapter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRateLimiterAdapter creates and tests a new connection to Redis and returns the adapter.
func NewRateLimiterAdapter(ctx context.Context, addr string) (*RateLimiterAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RateLimiterAdapter{rdb: rdb, now: time.Now}, nil
}

// IsAllowed implements a sliding window over a sorted set: entries older than
// the window are trimmed, the current request is added, and the remaining
// members are counted, all in one MULTI/EXEC.
func (a *RateLimiterAdapter) IsAllowed(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := a.now().UnixNano()
	windowStart := now - window.Nanoseconds()

	var card *redis.IntCmd
	_, err := a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: now})
		card = pipe.ZCard(ctx, key)
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis sliding window failed: %w", err)
	}

	return card.Val() <= int64(limit), nil
}

// Close gracefully closes the Redis connection.
func (a *RateLimiterAdapter) Close() error {
	return a.rdb.Close()
}
