package auth

import (
	"context"
	"strconv"
	"time"

	"simpletask-backend/internal/cache"
	"simpletask-backend/internal/observability"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimiter counts requests per (purpose, key) in fixed windows backed by
// the shared expiring store. Fixed windows allow a burst at a window
// boundary; that is an accepted trade-off for a login-protection limiter.
type RateLimiter struct {
	cache    *cache.Cache
	logger   *observability.Logger
	failOpen bool
}

// NewRateLimiter creates a limiter. With failOpen true (the default
// deployment posture) a store failure admits the request; operators who
// prefer strict enforcement set RATE_LIMIT_FAIL_OPEN=false.
func NewRateLimiter(cache *cache.Cache, logger *observability.Logger, failOpen bool) *RateLimiter {
	return &RateLimiter{cache: cache, logger: logger, failOpen: failOpen}
}

// Allow increments the window counter for (purpose, key) and reports
// whether the request is within limit. The increment is the store's native
// atomic primitive; the window expiry is attached when the counter is
// created.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration, purpose string) bool {
	cacheKey := rateLimitKeyPrefix + purpose + ":" + key

	count, err := l.cache.Incr(ctx, cacheKey)
	if err != nil {
		l.logger.Warn("rate_limit_store_failed", map[string]any{
			"purpose":   purpose,
			"error":     err.Error(),
			"fail_open": l.failOpen,
		})
		return l.failOpen
	}

	if count == 1 {
		if err := l.cache.Expire(ctx, cacheKey, window); err != nil {
			l.logger.Warn("rate_limit_expire_failed", map[string]any{
				"purpose": purpose,
				"error":   err.Error(),
			})
		}
	}

	if count > int64(limit) {
		// A counter whose creating request failed to attach the window
		// expiry never resets and would deny this (purpose, key) forever.
		// Treat such a counter as a fresh window instead.
		ttl, err := l.cache.TTL(ctx, cacheKey)
		if err == nil && ttl == 0 {
			l.logger.Warn("rate_limit_counter_reset", map[string]any{"purpose": purpose})
			if err := l.cache.Set(ctx, cacheKey, "1", window); err != nil {
				l.logger.Warn("rate_limit_counter_reset_failed", map[string]any{
					"purpose": purpose,
					"error":   err.Error(),
				})
				return l.failOpen
			}
			return true
		}
	}

	return count <= int64(limit)
}

// Remaining reads the current counter and its residual window without
// mutating either. Reset is zero when no counter exists.
func (l *RateLimiter) Remaining(ctx context.Context, key string, limit int, purpose string) (int, time.Duration) {
	cacheKey := rateLimitKeyPrefix + purpose + ":" + key

	value, found, err := l.cache.Get(ctx, cacheKey)
	if err != nil || !found {
		return limit, 0
	}

	current, err := strconv.Atoi(value)
	if err != nil {
		current = 0
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}

	reset, err := l.cache.TTL(ctx, cacheKey)
	if err != nil {
		reset = 0
	}

	return remaining, reset
}
