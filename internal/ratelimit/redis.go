package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and opens the window on the first
// hit. It returns the new count and the remaining window in milliseconds.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter keeps the counters in Redis so every instance sees the same
// window for a key.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	prefix string
}

// NewRedisLimiter builds a limiter on an existing client. Keys are stored
// under prefix.
func NewRedisLimiter(client *redis.Client, cfg Config, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisLimiter{client: client, cfg: cfg, prefix: prefix}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}

	count, ttl := res[0], res[1]
	if count > int64(l.cfg.Limit) {
		return Decision{Allowed: false, RetryAfter: time.Duration(ttl) * time.Millisecond}, nil
	}
	return Decision{Allowed: true}, nil
}

// Close releases the underlying client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
