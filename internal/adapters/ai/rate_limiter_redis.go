package ai

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"fintelli/pkg/errors"
)

// RedisRateLimiter is a token bucket shared by every replica through Redis
type RedisRateLimiter struct {
	client   *redis.Client
	provider ProviderName
	rate     float64 // tokens per second
	burst    int
	key      string
	script   *redis.Script
	now      func() time.Time
}

// KEYS[1] bucket key; ARGV rate, burst, now (seconds). Returns 1 if a token
// was taken.
const luaTokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(data[1])
local last_update = tonumber(data[2])

if not tokens then
    tokens = burst
    last_update = now
end

local elapsed = math.max(0, now - last_update)
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1.0 then
    tokens = tokens - 1.0
    allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_update', tostring(now))
redis.call('EXPIRE', key, 3600)

return allowed
`

// NewRedisRateLimiter creates a distributed limiter keyed by provider
func NewRedisRateLimiter(client *redis.Client, keyPrefix string, provider ProviderName, reqPerMinute float64, burst int) *RedisRateLimiter {
	if burst <= 0 {
		burst = int(reqPerMinute / 10)
		if burst < 1 {
			burst = 1
		}
	}
	return &RedisRateLimiter{
		client:   client,
		provider: provider,
		rate:     reqPerMinute / 60.0,
		burst:    burst,
		key:      keyPrefix + "rate_limit:ai:" + string(provider),
		script:   redis.NewScript(luaTokenBucketScript),
		now:      time.Now,
	}
}

// Wait polls the shared bucket until a token is taken or ctx is done
func (l *RedisRateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, err := l.tryAcquire(ctx)
		if err != nil {
			return errors.Wrapf(err, "redis rate limiter for provider %s", l.provider)
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return &RateLimitError{
				Provider: l.provider,
				Limit:    l.Limit(),
				Err:      errors.Wrap(ctx.Err(), "rate limiter wait cancelled"),
			}
		case <-time.After(time.Duration(float64(time.Second) / l.rate)):
		}
	}
}

// Allow takes a token without blocking. Redis errors deny the request.
func (l *RedisRateLimiter) Allow(ctx context.Context) bool {
	allowed, err := l.tryAcquire(ctx)
	return err == nil && allowed
}

// Limit returns requests per minute
func (l *RedisRateLimiter) Limit() float64 {
	return l.rate * 60.0
}

// Reset clears the bucket
func (l *RedisRateLimiter) Reset(ctx context.Context) error {
	return l.client.Del(ctx, l.key).Err()
}

func (l *RedisRateLimiter) tryAcquire(ctx context.Context) (bool, error) {
	now := float64(l.now().UnixNano()) / float64(time.Second)
	result, err := l.script.Run(ctx, l.client, []string{l.key}, l.rate, l.burst, now).Int()
	if err != nil {
		return false, errors.Wrap(err, "run token bucket script")
	}
	return result == 1, nil
}
