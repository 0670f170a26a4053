package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/storefront-api/internal/apperror"
)

var ErrRateLimited = apperror.TooManyRequests("too many requests, please try again later")

// RateLimiter is a fixed-window counter in Redis.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	log    *slog.Logger
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration, log *slog.Logger) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window, log: log}
}

// Allow counts one hit for key and reports whether it is within the limit.
// The window's expiry is set in the same MULTI as the first increment, so a
// counter never outlives its window.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	k := "rate_limit:" + key
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, l.window)
		incr = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("incr rate counter: %w", err)
	}
	count := incr.Val()
	return count <= l.limit, count, nil
}

// Middleware limits by client IP. Redis failures let the request through.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, count, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			l.log.Warn("rate limiter unavailable", "error", err)
			c.Next()
			return
		}

		remaining := l.limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(l.limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !ok {
			abort(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
