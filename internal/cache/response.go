package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	HeaderCache     = "X-Cache"
	jsonContentType = "application/json; charset=utf-8"
)

// ResponseCache is a read-through cache of successful JSON responses keyed
// by request path. Store failures are logged and treated as misses.
type ResponseCache struct {
	store      Store
	log        *slog.Logger
	defaultTTL time.Duration
}

func NewResponseCache(store Store, log *slog.Logger, defaultTTL time.Duration) *ResponseCache {
	return &ResponseCache{store: store, log: log, defaultTTL: defaultTTL}
}

// Key returns the cache key for r. Requests carrying a query string are
// not cacheable.
func Key(r *http.Request) (string, bool) {
	if r.URL.RawQuery != "" {
		return "", false
	}
	path := r.URL.Path
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path, true
}

// Lookup serves a cached payload and aborts the chain on a hit.
func (rc *ResponseCache) Lookup() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rc.Serve(c) {
			c.Abort()
			return
		}
		c.Next()
	}
}

// Serve writes the cached payload for the request, if any, and reports
// whether it did. Handlers that authorize against stored state call it
// after their own checks instead of mounting Lookup.
func (rc *ResponseCache) Serve(c *gin.Context) bool {
	if c.Request.Method != http.MethodGet {
		return false
	}
	key, ok := Key(c.Request)
	if !ok {
		return false
	}

	body, err := rc.store.Get(c.Request.Context(), key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			rc.log.Warn("cache lookup failed", "key", key, "error", err)
		}
		c.Header(HeaderCache, "MISS")
		return false
	}

	c.Header(HeaderCache, "HIT")
	c.Data(http.StatusOK, jsonContentType, body)
	return true
}

// Respond writes payload as JSON and stores it when the response is a
// cacheable 200. A ttl of zero uses the default.
func (rc *ResponseCache) Respond(c *gin.Context, status int, payload any, ttl time.Duration) {
	body, err := json.Marshal(payload)
	if err != nil {
		_ = c.Error(fmt.Errorf("marshal response: %w", err))
		return
	}

	if status == http.StatusOK && c.Request.Method == http.MethodGet {
		if key, ok := Key(c.Request); ok {
			if ttl <= 0 {
				ttl = rc.defaultTTL
			}
			if err := rc.store.Set(c.Request.Context(), key, body, ttl); err != nil {
				rc.log.Warn("cache store failed", "key", key, "error", err)
			}
		}
	}

	c.Data(status, jsonContentType, body)
}

// Invalidate drops the given path keys.
func (rc *ResponseCache) Invalidate(ctx context.Context, paths ...string) {
	if len(paths) == 0 {
		return
	}
	if err := rc.store.Delete(ctx, paths...); err != nil {
		rc.log.Warn("cache invalidation failed", "keys", paths, "error", err)
	}
}
