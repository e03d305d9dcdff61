package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter limits each identifier to MaxRequests per Window
// using a Redis sorted set of request timestamps. Old entries fall out of
// the set as the window slides.
type SlidingWindowLimiter struct {
	client      *redis.Client
	maxRequests int
	window      time.Duration
	keyPrefix   string
	log         *slog.Logger
}

// NewSlidingWindowLimiter creates a limiter over the given Redis client.
func NewSlidingWindowLimiter(client *redis.Client, maxRequests int, window time.Duration, log *slog.Logger) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client:      client,
		maxRequests: maxRequests,
		window:      window,
		keyPrefix:   "ratelimit:",
		log:         log,
	}
}

// Window returns the configured window length.
func (l *SlidingWindowLimiter) Window() time.Duration {
	return l.window
}

// MaxRequests returns the configured request budget per window.
func (l *SlidingWindowLimiter) MaxRequests() int {
	return l.maxRequests
}

// Allow records the current request and reports whether it fits in the
// window, along with how many requests remain. The admission decision uses
// the count before this request; the request's own timestamp is always
// recorded, so a rejected caller still burns window share.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, identifier string) (bool, int, error) {
	key := l.keyPrefix + identifier
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	windowStart := now - l.window.Seconds()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", formatScore(windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: now, Member: formatScore(now)})
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit pipeline: %w", err)
	}

	currentCount := int(countCmd.Val())
	allowed := currentCount < l.maxRequests
	remaining := l.maxRequests - currentCount - 1
	if remaining < 0 {
		remaining = 0
	}

	if !allowed {
		l.log.Warn("rate limit exceeded",
			"identifier", identifier,
			"current_count", currentCount,
			"max_requests", l.maxRequests,
		)
	}

	return allowed, remaining, nil
}

// Remaining reports how many requests the identifier has left in the
// current window without recording a request.
func (l *SlidingWindowLimiter) Remaining(ctx context.Context, identifier string) (int, error) {
	key := l.keyPrefix + identifier
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	windowStart := now - l.window.Seconds()

	if err := l.client.ZRemRangeByScore(ctx, key, "0", formatScore(windowStart)).Err(); err != nil {
		return 0, err
	}
	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	remaining := l.maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
