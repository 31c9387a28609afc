// Package redis implements repository.TokenCache on Redis.
//
// Every authenticated request resolves its token to a user. Without a cache
// that is one tokens-table read per request; with it, a hit costs one GET.
//
// KEY LAYOUT:
//
//	accounts:token:<key>  →  "<user id>"   live entry, expires after TTL
//	accounts:token:<key>  →  "-"           tombstone written on logout
//
// WHY TOMBSTONES?
// A fill (DB read, then SET) can race a logout (DB delete). If the fill's DB
// read happened before the delete but its SET lands after, a plain DEL on
// logout would leave a revoked key cached for a full TTL. Instead, logout
// overwrites the entry with "-" BEFORE deleting the row, and fills use SET NX,
// which cannot replace an existing tombstone.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/repository"
)

var _ repository.TokenCache = (*TokenCache)(nil)

const (
	keyPrefix = "accounts:token:"
	tombstone = "-"

	// DefaultTTL applies when the configured TTL is zero or negative.
	DefaultTTL = 5 * time.Minute
)

// TokenCache is a look-aside cache mapping token keys to user ids.
type TokenCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// New parses redisURL (redis://[:password@]host:port/db), connects and pings.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*TokenCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}

	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connecting: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenCache{client: client, ttl: ttl}
}

func cacheKey(key string) string {
	return keyPrefix + key
}

// Lookup returns the cached user id for key.
//
//	hit        → (id, true, nil)
//	miss       → (0, false, nil)
//	tombstone  → (0, false, apperror.ErrNotFound)
func (c *TokenCache) Lookup(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: get: %w", err)
	}

	if val == tombstone {
		return 0, false, apperror.NotFound("token", "<redacted>")
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Corrupt entry; drop it and let the caller fall back to the store.
		// If it cannot be dropped, report that so the failure shows up in
		// logs and metrics instead of repeating silently on every request.
		if err := c.client.Del(ctx, cacheKey(key)).Err(); err != nil {
			return 0, false, fmt.Errorf("redis: dropping corrupt entry: %w", err)
		}
		return 0, false, nil
	}
	return id, true, nil
}

// Remember fills the cache with SET NX so it never overwrites a tombstone.
func (c *TokenCache) Remember(ctx context.Context, key string, userID int64) error {
	if err := c.client.SetNX(ctx, cacheKey(key), strconv.FormatInt(userID, 10), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: setnx: %w", err)
	}
	return nil
}

// Forget replaces any entry for key with a tombstone.
func (c *TokenCache) Forget(ctx context.Context, key string) error {
	if err := c.client.Set(ctx, cacheKey(key), tombstone, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set tombstone: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *TokenCache) Close() error {
	return c.client.Close()
}
