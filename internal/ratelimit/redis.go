package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// KeyPrefix is the default prefix of rate limit keys.
const KeyPrefix = "rpcdispatch:ratelimit"

// Redis is a sliding window limiter backed by one sorted set per key, so that
// several server instances share their counts.
type Redis struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	seq    atomic.Uint64
}

// NewRedis creates a limiter allowing limit requests per window and key.
func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{
		client: client,
		prefix: KeyPrefix,
		limit:  limit,
		window: window,
	}
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, key string) (Result, error) {
	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)

	now := time.Now()
	windowStartMs := now.Add(-r.window).UnixMilli()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStartMs, 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Result{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := int(countCmd.Val())
	if count >= r.limit {
		retryAfter := r.window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			expiry := time.UnixMilli(int64(oldest[0].Score)).Add(r.window)
			retryAfter = max(expiry.Sub(now), 0)
		}
		return Result{Allowed: false, RetryAfter: retryAfter, Limit: r.limit}, nil
	}

	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%d", nowMs, r.seq.Add(1))

	pipe = r.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(nowMs), Member: member})
	pipe.Expire(ctx, redisKey, r.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit record: %w", err)
	}

	return Result{Allowed: true, Remaining: r.limit - count - 1, Limit: r.limit}, nil
}

// Reset clears the window of key.
func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, fmt.Sprintf("%s:%s", r.prefix, key)).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}
