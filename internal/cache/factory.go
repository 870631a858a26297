package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend   string // "memory" or "redis"
	TTL       time.Duration
	Prefix    string
	VersionID string
}

// NewStore picks the backend. redisClient may be nil unless Backend is
// "redis". The returned store always logs and records metrics.
func NewStore(cfg Config, redisClient *redis.Client) Store {
	var store Store
	switch cfg.Backend {
	case "redis":
		store = NewRedisStore(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		})
	default:
		store = NewMemoryStore()
	}
	return NewLoggingStore(store)
}
