package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"contacts-api/internal/observability"
)

const (
	SessionCacheTTL     = 10 * time.Minute
	sessionCacheVersion = 1
	sessionKeyPrefix    = "user:"
)

// SessionCache maps usernames to user records. A miss only means the
// directory has to be consulted; it never means the user does not exist.
type SessionCache interface {
	Get(ctx context.Context, username string) (User, bool)
	Put(ctx context.Context, username string, user User, ttl time.Duration)
	Invalidate(ctx context.Context, username string)
}

type cachedUser struct {
	Version               int        `json:"v"`
	ID                    int64      `json:"id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"password_hash"`
	RefreshToken          string     `json:"refresh_token,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
	Confirmed             bool       `json:"confirmed"`
	Role                  Role       `json:"role"`
	Avatar                string     `json:"avatar,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

func encodeCachedUser(user User) ([]byte, error) {
	return json.Marshal(cachedUser{
		Version:               sessionCacheVersion,
		ID:                    user.ID,
		Username:              user.Username,
		Email:                 user.Email,
		PasswordHash:          user.PasswordHash,
		RefreshToken:          user.RefreshToken,
		RefreshTokenExpiresAt: user.RefreshTokenExpiresAt,
		Confirmed:             user.Confirmed,
		Role:                  user.Role,
		Avatar:                user.Avatar,
		CreatedAt:             user.CreatedAt,
	})
}

func decodeCachedUser(raw []byte) (User, error) {
	var entry cachedUser
	if err := json.Unmarshal(raw, &entry); err != nil {
		return User{}, err
	}
	if entry.Version != sessionCacheVersion {
		return User{}, errors.New("unsupported session cache entry version")
	}
	if entry.Username == "" || !entry.Role.Valid() {
		return User{}, errors.New("incomplete session cache entry")
	}

	return User{
		ID:                    entry.ID,
		Username:              entry.Username,
		Email:                 entry.Email,
		PasswordHash:          entry.PasswordHash,
		RefreshToken:          entry.RefreshToken,
		RefreshTokenExpiresAt: entry.RefreshTokenExpiresAt,
		Confirmed:             entry.Confirmed,
		Role:                  entry.Role,
		Avatar:                entry.Avatar,
		CreatedAt:             entry.CreatedAt,
	}, nil
}

type RedisSessionCache struct {
	client redis.UniversalClient
	logger *observability.Logger
}

func NewRedisSessionCache(client redis.UniversalClient, logger *observability.Logger) *RedisSessionCache {
	return &RedisSessionCache{client: client, logger: logger}
}

func (c *RedisSessionCache) Get(ctx context.Context, username string) (User, bool) {
	raw, err := c.client.Get(ctx, sessionKeyPrefix+username).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("session_cache_get_failed", map[string]any{"username": username, "error": err.Error()})
		}
		return User{}, false
	}

	user, err := decodeCachedUser(raw)
	if err != nil {
		c.logger.Warn("session_cache_decode_failed", map[string]any{"username": username, "error": err.Error()})
		return User{}, false
	}

	return user, true
}

func (c *RedisSessionCache) Put(ctx context.Context, username string, user User, ttl time.Duration) {
	raw, err := encodeCachedUser(user)
	if err != nil {
		c.logger.Warn("session_cache_encode_failed", map[string]any{"username": username, "error": err.Error()})
		return
	}
	if err := c.client.Set(ctx, sessionKeyPrefix+username, raw, ttl).Err(); err != nil {
		c.logger.Warn("session_cache_put_failed", map[string]any{"username": username, "error": err.Error()})
	}
}

func (c *RedisSessionCache) Invalidate(ctx context.Context, username string) {
	if err := c.client.Del(ctx, sessionKeyPrefix+username).Err(); err != nil {
		c.logger.Warn("session_cache_invalidate_failed", map[string]any{"username": username, "error": err.Error()})
	}
}

type memoryEntry struct {
	user      User
	expiresAt time.Time
}

// MemorySessionCache is the in-process fallback used when no Redis is configured.
type MemorySessionCache struct {
	entries *lru.LRU[string, memoryEntry]
	now     func() time.Time
}

func NewMemorySessionCache(size int, maxTTL time.Duration) *MemorySessionCache {
	if size <= 0 {
		size = 1024
	}
	if maxTTL <= 0 {
		maxTTL = SessionCacheTTL
	}

	return &MemorySessionCache{
		entries: lru.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now:     time.Now,
	}
}

func (c *MemorySessionCache) Get(_ context.Context, username string) (User, bool) {
	entry, ok := c.entries.Get(username)
	if !ok {
		return User{}, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.entries.Remove(username)
		return User{}, false
	}
	return entry.user, true
}

func (c *MemorySessionCache) Put(_ context.Context, username string, user User, ttl time.Duration) {
	if ttl <= 0 {
		ttl = SessionCacheTTL
	}
	c.entries.Add(username, memoryEntry{user: user, expiresAt: c.now().Add(ttl)})
}

func (c *MemorySessionCache) Invalidate(_ context.Context, username string) {
	c.entries.Remove(username)
}
