package cache

import (
	"context"
	"io"
	"log/slog"
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

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "cache:"), mr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRedisStore_GetSetDelete(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "/api/products")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "/api/products", []byte(`[]`), time.Minute))
	assert.True(t, mr.Exists("cache:/api/products"))

	got, err := store.Get(ctx, "/api/products")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "/api/products")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "/api/products", []byte(`[]`), time.Minute))
	require.NoError(t, store.Delete(ctx, "/api/products", "/api/other"))
	assert.False(t, mr.Exists("cache:/api/products"))
}

func TestKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/products/42/", nil)
	key, ok := Key(r)
	assert.True(t, ok)
	assert.Equal(t, "/api/products/42", key)

	r = httptest.NewRequest(http.MethodGet, "/api/products?page=2", nil)
	_, ok = Key(r)
	assert.False(t, ok)
}

func newCachedRouter(rc *ResponseCache, calls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/products/:id", rc.Lookup(), func(c *gin.Context) {
		*calls++
		rc.Respond(c, http.StatusOK, gin.H{"id": c.Param("id"), "calls": *calls}, 0)
	})
	return r
}

func TestResponseCache_HitServesIdenticalPayload(t *testing.T) {
	store, _ := newTestStore(t)
	rc := NewResponseCache(store, discardLogger(), time.Hour)
	calls := 0
	r := newCachedRouter(rc, &calls)

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/products/42", nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get(HeaderCache))

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/products/42", nil))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get(HeaderCache))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	rc.Invalidate(context.Background(), "/api/products/42")

	third := httptest.NewRecorder()
	r.ServeHTTP(third, httptest.NewRequest(http.MethodGet, "/api/products/42", nil))
	assert.Equal(t, "MISS", third.Header().Get(HeaderCache))
	assert.Equal(t, 2, calls)
}

func TestResponseCache_StoreDownFallsThrough(t *testing.T) {
	store, mr := newTestStore(t)
	rc := NewResponseCache(store, discardLogger(), time.Hour)
	calls := 0
	r := newCachedRouter(rc, &calls)
	mr.Close()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/products/7", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)

	rc.Invalidate(context.Background(), "/api/products/7")
}

func TestResponseCache_QueryStringBypasses(t *testing.T) {
	store, mr := newTestStore(t)
	rc := NewResponseCache(store, discardLogger(), time.Hour)
	calls := 0
	r := newCachedRouter(rc, &calls)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/products/9?x=1", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 2, calls)
	assert.Empty(t, mr.Keys())
}
