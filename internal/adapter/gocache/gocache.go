// Package gocache implements the cache port in process with
// patrickmn/go-cache. It holds idempotent replay responses when NATS KV is
// not configured.
package gocache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Strob0t/ReviewForge/internal/port/cache"
)

// Cache is an in-process key-value cache with per-entry expiry.
type Cache struct {
	c *gocache.Cache
}

var _ cache.Cache = (*Cache)(nil)

// New creates a cache whose entries default to ttl and are purged every
// cleanupInterval.
func New(ttl, cleanupInterval time.Duration) *Cache {
	return &Cache{c: gocache.New(ttl, cleanupInterval)}
}

// Get retrieves a value from the cache.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	if val, found := c.c.Get(key); found {
		if b, isBytes := val.([]byte); isBytes {
			return b, true, nil
		}
	}
	return nil, false, nil
}

// Set stores a value. A zero ttl uses the cache default.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.c.Set(key, value, ttl)
	return nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Delete(key)
	return nil
}
