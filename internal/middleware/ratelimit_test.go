package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, limit int64) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRateLimiter(client, limit, time.Minute, discardLogger()), mr
}

func TestRateLimiter_Allow(t *testing.T) {
	l, mr := newLimiter(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, count, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(3), count)

	mr.FastForward(time.Minute + time.Second)
	ok, _, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_WindowExpirySetWithFirstHit(t *testing.T) {
	l, mr := newLimiter(t, 5)
	ctx := context.Background()

	_, _, err := l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("rate_limit:5.6.7.8"))

	mr.FastForward(30 * time.Second)
	_, count, err := l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 30*time.Second, mr.TTL("rate_limit:5.6.7.8"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newLimiter(t, 1)

	r := gin.New()
	r.Use(ErrorHandler(discardLogger()))
	r.POST("/api/login", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/login", nil))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, mr := newLimiter(t, 1)
	mr.Close()

	r := gin.New()
	r.POST("/api/login", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/login", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
