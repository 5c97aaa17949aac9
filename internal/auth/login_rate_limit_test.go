package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contacts-api/internal/observability"
)

type failingCounter struct{}

func (failingCounter) Hit(context.Context, string, time.Duration, time.Time) (int, time.Duration, error) {
	return 0, 0, errors.New("redis down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedRequest(handler http.Handler, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLoginRateLimiterBlocksAfterMaxHits(t *testing.T) {
	limiter := NewLoginRateLimiter(NewMemoryHitCounter(), quietLogger(), "login", 2, time.Minute)
	handler := limiter.Middleware(okHandler())

	assert.Equal(t, http.StatusOK, limitedRequest(handler, "10.0.0.1:5000", "").Code)
	assert.Equal(t, http.StatusOK, limitedRequest(handler, "10.0.0.1:5001", "").Code)

	rec := limitedRequest(handler, "10.0.0.1:5002", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"detail":"Too many requests"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other clients keep their own window.
	assert.Equal(t, http.StatusOK, limitedRequest(handler, "10.0.0.2:5000", "").Code)
	assert.Equal(t, http.StatusOK, limitedRequest(handler, "10.0.0.1:5003", "203.0.113.9, 10.0.0.1").Code)
}

func TestLoginRateLimiterFailsOpen(t *testing.T) {
	logs := &bytes.Buffer{}
	limiter := NewLoginRateLimiter(failingCounter{}, observability.NewLoggerTo(logs, "warn"), "login", 1, time.Minute)
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, limitedRequest(handler, "10.0.0.1:5000", "").Code)
	}
	assert.Contains(t, logs.String(), "rate_limit_counter_failed")
}

func TestMemoryHitCounterWindows(t *testing.T) {
	counter := NewMemoryHitCounter()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	hits, retry, err := counter.Hit(ctx, "k", time.Minute, start)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
	assert.Equal(t, time.Minute, retry)

	hits, retry, err = counter.Hit(ctx, "k", time.Minute, start.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
	assert.Equal(t, 40*time.Second, retry)

	hits, _, err = counter.Hit(ctx, "k", time.Minute, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestMemoryHitCounterPrunesExpiredWindows(t *testing.T) {
	counter := NewMemoryHitCounter()
	counter.maxMemory = 2
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_, _, _ = counter.Hit(ctx, "a", time.Minute, start)
	_, _, _ = counter.Hit(ctx, "b", time.Minute, start)
	_, _, _ = counter.Hit(ctx, "c", time.Minute, start.Add(2*time.Minute))

	assert.Len(t, counter.windows, 1)
}

func TestRedisHitCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	counter := NewRedisHitCounter(client)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		hits, retry, err := counter.Hit(ctx, "login:10.0.0.1", time.Minute, time.Now())
		require.NoError(t, err)
		assert.Equal(t, want, hits)
		assert.Greater(t, retry, time.Duration(0))
		assert.LessOrEqual(t, retry, time.Minute)
	}
	assert.True(t, mr.Exists("ratelimit:login:10.0.0.1"))

	mr.FastForward(time.Minute + time.Second)
	hits, _, err := counter.Hit(ctx, "login:10.0.0.1", time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	mr.Close()
	_, _, err = counter.Hit(ctx, "login:10.0.0.1", time.Minute, time.Now())
	assert.Error(t, err)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 198.51.100.4 , 10.0.0.1")
	assert.Equal(t, "198.51.100.4", clientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ""
	assert.Equal(t, "unknown", clientIP(req))
}
