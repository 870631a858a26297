package recognition

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mealscan-gateway/internal/metrics"
	"mealscan-gateway/internal/vision"
	"mealscan-gateway/pkg/logging/logging"
)

const (
	defaultBaseBackoff = 200 * time.Millisecond
	maxBackoff         = 5 * time.Second
)

// attemptResult is what one strategy's attempt sequence produced.
type attemptResult struct {
	resp *vision.Response
	err  error
}

// callWithRetry runs up to MaxRetries+1 sequential attempts against the
// strategy's provider.
//   - Retries only transient failures (network errors, 408, 5xx).
//   - Provider rate limiting and permanent errors return immediately.
//   - Backoff is exponential with full jitter and respects ctx.
//
// attempts is incremented before every provider call so the caller can read
// it even after abandoning the sequence.
func callWithRetry(ctx context.Context, s Strategy, req vision.Request, attempts *atomic.Int64) attemptResult {
	logger := logging.L(ctx).With(zap.String("provider", s.Name))
	maxAttempts := s.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attemptResult{err: err}
		}

		attempts.Add(1)
		start := time.Now()
		resp, err := s.Provider.Recognize(ctx, req)
		duration := time.Since(start)

		outcome := attemptOutcome(err)
		metrics.ProviderAttemptsTotal.WithLabelValues(s.Name, outcome).Inc()
		logger.Debug("provider_attempt",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.String("outcome", outcome),
			zap.Duration("duration", duration),
			zap.Error(err),
		)

		if err == nil {
			return attemptResult{resp: resp}
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attemptResult{err: err}
		}
		if !vision.IsTransient(err) {
			return attemptResult{err: err}
		}
		if attempt == maxAttempts-1 {
			break
		}

		backoff := computeBackoff(s.BaseBackoff, attempt)
		logger.Debug("backing off before retry",
			zap.Duration("backoff", backoff),
			zap.Int("next_attempt", attempt+2),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attemptResult{err: ctx.Err()}
		case <-timer.C:
		}
	}

	logger.Warn("provider exhausted retries",
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return attemptResult{err: lastErr}
}

func attemptOutcome(err error) string {
	if err == nil {
		return "success"
	}
	var rl *vision.RateLimitedError
	switch {
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case vision.IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}

// computeBackoff returns a random duration in [0, base*2^attempt], capped.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultBaseBackoff
	}
	if attempt > 10 {
		attempt = 10
	}

	ceiling := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if ceiling > maxBackoff {
		ceiling = maxBackoff
	}
	return time.Duration(rand.Float64() * float64(ceiling))
}
