package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	redisclient "fintelli/internal/adapters/redis"
	"fintelli/internal/cache"
	"fintelli/internal/metrics"
	"fintelli/pkg/errors"
)

// Compile-time check
var _ cache.Store = (*CacheStore)(nil)

// CacheStore implements cache.Store on Redis. Values are stored as raw
// bytes under prefix; compute locks use the client's token-owned locks.
type CacheStore struct {
	client *redisclient.Client
	prefix string
}

// NewCacheStore creates a Redis-backed cache store
func NewCacheStore(client *redisclient.Client, prefix string) *CacheStore {
	return &CacheStore{client: client, prefix: prefix}
}

// Get returns the stored bytes or errors.ErrNotFound
func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.client.Client().Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		observe("get", start, nil)
		return nil, errors.Wrapf(errors.ErrNotFound, "cache key %s", key)
	}
	observe("get", start, err)
	if err != nil {
		return nil, errors.NewConnectivityError("redis", "get", err)
	}
	return data, nil
}

// Set stores value with ttl. A non-positive ttl is rejected so entries
// always expire.
func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.NewValidationError("ttl", "must be positive", ttl)
	}
	start := time.Now()
	err := s.client.Client().Set(ctx, s.key(key), value, ttl).Err()
	observe("set", start, err)
	if err != nil {
		return errors.NewConnectivityError("redis", "set", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.client.Delete(ctx, s.key(key))
	observe("delete", start, err)
	if err != nil {
		return errors.NewConnectivityError("redis", "delete", err)
	}
	return nil
}

// TryLock takes the compute lock for key when nobody holds it
func (s *CacheStore) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.client.AcquireLock(ctx, s.key(key), token, ttl)
	observe("lock", start, err)
	if err != nil {
		return false, errors.NewConnectivityError("redis", "lock", err)
	}
	return ok, nil
}

// Unlock releases the compute lock if token still owns it
func (s *CacheStore) Unlock(ctx context.Context, key, token string) error {
	start := time.Now()
	err := s.client.ReleaseLock(ctx, s.key(key), token)
	observe("unlock", start, err)
	if err != nil {
		return errors.NewConnectivityError("redis", "unlock", err)
	}
	return nil
}

// Keys lists stored cache keys under prefix, without the prefix. Used by
// the cache janitor to report store occupancy.
func (s *CacheStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Client().Scan(ctx, cursor, s.key(pattern), 100).Result()
		if err != nil {
			return nil, errors.NewConnectivityError("redis", "scan", err)
		}
		for _, k := range keys {
			out = append(out, k[len(s.prefix):])
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (s *CacheStore) key(key string) string {
	return s.prefix + key
}

func observe(op string, start time.Time, err error) {
	metrics.RecordDBQuery("redis", op, time.Since(start), err)
}
