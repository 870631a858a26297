package cache

import (
	"context"
	"strings"
	"time"

	"mealscan-gateway/internal/metrics"
	"mealscan-gateway/pkg/logging/logging"

	"go.uber.org/zap"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner Store
}

func NewLoggingStore(inner Store) Store {
	return &LoggingStore{inner: inner}
}

func (c *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(result).Inc()

	fields := append(keyFields(key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("content_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("content_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := append(keyFields(key),
		zap.Int("value_bytes", len(value)),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("content_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("content_cache_set", fields...)
	}

	return err
}

// keyFields expects content:<VERSION_ID>:<HASH>.
func keyFields(key string) []zap.Field {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "content" {
		return []zap.Field{zap.String("cache_key", key)}
	}
	return []zap.Field{
		zap.String("version_id", parts[1]),
		zap.String("image_hash", parts[2]),
	}
}
