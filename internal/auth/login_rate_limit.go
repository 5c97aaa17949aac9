package auth

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"contacts-api/internal/observability"
)

// HitCounter counts hits of a key inside fixed windows.
type HitCounter interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Duration, error)
}

type LoginRateLimiter struct {
	counter HitCounter
	maxHits int
	window  time.Duration
	scope   string
	logger  *observability.Logger
}

func NewLoginRateLimiter(counter HitCounter, logger *observability.Logger, scope string, maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		counter: counter,
		maxHits: maxHits,
		window:  window,
		scope:   scope,
		logger:  logger,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		hits, retryAfter, err := l.counter.Hit(r.Context(), l.scope+":"+clientIP(r), l.window, now)
		if err != nil {
			// Fail open.
			l.logger.Warn("rate_limit_counter_failed", map[string]any{"scope": l.scope, "error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}

		if hits > l.maxHits {
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type memoryWindow struct {
	startedAt time.Time
	hits      int
}

type MemoryHitCounter struct {
	mu        sync.Mutex
	windows   map[string]memoryWindow
	maxMemory int
}

func NewMemoryHitCounter() *MemoryHitCounter {
	return &MemoryHitCounter{
		windows:   make(map[string]memoryWindow),
		maxMemory: 5000,
	}
}

func (c *MemoryHitCounter) Hit(_ context.Context, key string, window time.Duration, now time.Time) (int, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.windows[key]
	if !ok || !now.Before(current.startedAt.Add(window)) {
		current = memoryWindow{startedAt: now}
	}
	current.hits++
	c.windows[key] = current

	if len(c.windows) > c.maxMemory {
		for k, v := range c.windows {
			if !now.Before(v.startedAt.Add(window)) {
				delete(c.windows, k)
			}
		}
	}

	return current.hits, current.startedAt.Add(window).Sub(now), nil
}

type RedisHitCounter struct {
	client redis.UniversalClient
}

func NewRedisHitCounter(client redis.UniversalClient) *RedisHitCounter {
	return &RedisHitCounter{client: client}
}

func (c *RedisHitCounter) Hit(ctx context.Context, key string, window time.Duration, _ time.Time) (int, time.Duration, error) {
	redisKey := "ratelimit:" + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SetNX(ctx, redisKey, 0, window)
		incr = p.Incr(ctx, redisKey)
		ttl = p.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	retryAfter := ttl.Val()
	if retryAfter <= 0 {
		retryAfter = window
	}

	return int(incr.Val()), retryAfter, nil
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}
