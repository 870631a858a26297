package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingLog runs the same prune/count/append sequence as MemoryLimiter,
// atomically, against a sorted set scored by millisecond timestamps.
var slidingLog = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, limit - count - 1}
end
return {0, 0}
`)

// RedisLimiter shares admission state between gateway instances.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	cfg = cfg.WithDefaults()
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{
		client: client,
		window: cfg.Window,
		max:    cfg.Max,
		prefix: prefix,
		now:    time.Now,
	}
}

func (l *RedisLimiter) key(callerID string) string {
	return l.prefix + ":" + callerID
}

func (l *RedisLimiter) Admit(ctx context.Context, callerID string) (Decision, error) {
	res, err := slidingLog.Run(ctx, l.client,
		[]string{l.key(callerID)},
		l.now().UnixMilli(),
		l.window.Milliseconds(),
		l.max,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}

	allowed, _ := res[0].(int64)
	remaining, _ := res[1].(int64)

	if allowed != 1 {
		return Decision{Allowed: false, RetryAfter: l.window}, nil
	}
	return Decision{Allowed: true, Remaining: int(remaining)}, nil
}
