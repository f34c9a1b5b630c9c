// Package ratelimit implements a fixed-window request limiter backed by a
// shared Redis counter, with a per-instance in-memory fallback when Redis is
// unavailable. The fallback loses cross-instance accuracy but keeps every
// instance enforcing its own window instead of blocking or dropping traffic.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxlate/voxlate/internal/metrics"
)

// Decision is the outcome of an Allow call. RetryAfter is set on denial and
// is always positive, so callers can surface an actionable delay.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// Limiter enforces max requests per window for one bucket (e.g. "translation").
type Limiter struct {
	rdb      redis.Cmdable
	bucket   string
	max      int
	window   time.Duration
	fallback *memoryWindow
	now      func() time.Time
}

// New creates a Limiter. rdb may be nil, in which case only the in-memory
// window is used.
func New(rdb redis.Cmdable, bucket string, max int, window time.Duration) *Limiter {
	return &Limiter{
		rdb:      rdb,
		bucket:   bucket,
		max:      max,
		window:   window,
		fallback: newMemoryWindow(),
		now:      time.Now,
	}
}

// Allow checks and consumes cost units of the client's window. Counting is
// conservative: denied requests still bump the shared counter, so racing
// instances can only overcount, never undercount.
func (l *Limiter) Allow(ctx context.Context, clientKey string, cost int) Decision {
	if cost <= 0 {
		cost = 1
	}

	if l.rdb != nil {
		d, err := l.allowRedis(ctx, clientKey, cost)
		if err == nil {
			if !d.Allowed {
				metrics.RateLimitDeniedTotal.WithLabelValues(l.bucket).Inc()
			}
			return d
		}
		slog.Warn("rate limiter: redis unavailable, using in-memory window",
			"bucket", l.bucket, "error", err)
	}

	d := l.fallback.allow(l.bucket, clientKey, cost, l.max, l.window, l.now())
	if !d.Allowed {
		metrics.RateLimitDeniedTotal.WithLabelValues(l.bucket).Inc()
	}
	return d
}

func (l *Limiter) allowRedis(ctx context.Context, clientKey string, cost int) (Decision, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", l.bucket, clientKey, windowStart.Unix())

	pipe := l.rdb.Pipeline()
	countCmd := pipe.IncrBy(ctx, key, int64(cost))
	pipe.Expire(ctx, key, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := countCmd.Val()
	if count > int64(l.max) {
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter(windowStart, l.window, now),
		}, nil
	}

	return Decision{Allowed: true, Remaining: l.max - int(count)}, nil
}

func retryAfter(windowStart time.Time, window time.Duration, now time.Time) time.Duration {
	ra := windowStart.Add(window).Sub(now)
	if ra <= 0 {
		ra = time.Second
	}
	return ra
}
