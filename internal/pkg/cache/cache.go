package cache

import (
	"context"
	"time"
)

// Cache is the result-cache abstraction shared by the graph and path
// services. Implementations must be safe for concurrent use; callers never
// depend on a concrete backend so a single-node map and a redis-backed
// cache are interchangeable.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val under key. ttl <= 0 means no expiry; entries without
	// a TTL live until Delete is called for their key.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
