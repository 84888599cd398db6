// Package cache provides Redis-backed login throttling and readiness checks.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key the service writes.
const DefaultKeyPrefix = "usermanager:"

// Options tunes the Redis client. Zero fields keep the defaults.
type Options struct {
	PoolSize  int
	KeyPrefix string
}

const (
	defaultPoolSize   = 10
	connectTimeout    = 5 * time.Second
	idleConnRetention = 5 * time.Minute
)

// Cache holds the Redis client and the key namespace.
type Cache struct {
	client *redis.Client
	prefix string
}

// New parses redisURL, applies opts and verifies the server answers PING.
func New(ctx context.Context, redisURL string, opts Options) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = defaultPoolSize
	if opts.PoolSize > 0 {
		opt.PoolSize = opts.PoolSize
	}
	opt.MinIdleConns = min(2, opt.PoolSize)
	opt.DialTimeout = connectTimeout
	opt.ConnMaxIdleTime = idleConnRetention

	c := newCache(redis.NewClient(opt), opts.KeyPrefix)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return c, nil
}

func newCache(client *redis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Cache{client: client, prefix: prefix}
}

// Ping reports whether Redis is reachable. It backs the readiness probe.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the raw client for test fixtures.
func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += p
	}
	return k
}
