package cache

import (
	"context"
	"time"
)

// Store is a persistent backing for cache entries shared across processes.
// Get returns errors.ErrNotFound for absent keys. TryLock must be an atomic
// check-and-set so only one process computes a key at a time.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}
