// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. Keys must be valid NATS
// KV keys so that any implementation can serve as the shared tier.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// LocalEvicter is implemented by caches with a process-local tier that can be
// dropped without touching shared state.
type LocalEvicter interface {
	EvictLocal(key string)
}
