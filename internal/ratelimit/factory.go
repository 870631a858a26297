package ratelimit

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mealscan-gateway/internal/metrics"
	"mealscan-gateway/pkg/logging/logging"
)

// New picks the backend. redisClient may be nil unless Backend is "redis".
func New(cfg Config, redisClient *redis.Client) Limiter {
	cfg = cfg.WithDefaults()
	var inner Limiter
	switch cfg.Backend {
	case "redis":
		inner = NewRedisLimiter(redisClient, cfg)
	default:
		inner = NewMemoryLimiter(cfg.Window, cfg.Max)
	}
	return &instrumented{inner: inner}
}

// instrumented logs and counts decisions. Backend errors fail open.
type instrumented struct {
	inner Limiter
}

func (l *instrumented) Admit(ctx context.Context, callerID string) (Decision, error) {
	d, err := l.inner.Admit(ctx, callerID)
	if err != nil {
		metrics.RateLimitDecisionsTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Warn("rate_limit_error_fail_open",
			zap.String("caller_id", callerID),
			zap.Error(err),
		)
		return Decision{Allowed: true}, nil
	}

	if d.Allowed {
		metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
		logging.L(ctx).Info("rate_limit_denied",
			zap.String("caller_id", callerID),
			zap.Duration("retry_after", d.RetryAfter),
		)
	}
	return d, nil
}

// Inner returns the wrapped limiter.
func (l *instrumented) Inner() Limiter { return l.inner }
