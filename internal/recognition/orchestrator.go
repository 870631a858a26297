// Package recognition runs recognition providers as an ordered fallback chain
// with bounded retries and a per-strategy timeout.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mealscan-gateway/internal/apperr"
	"mealscan-gateway/internal/metrics"
	"mealscan-gateway/internal/vision"
	"mealscan-gateway/pkg/logging/logging"
)

const (
	DefaultMaxRetries = 2
	DefaultTimeout    = 30 * time.Second

	// defaultProviderRetryAfter is used when a provider throttles us without
	// saying for how long.
	defaultProviderRetryAfter = 30 * time.Second
)

var (
	ErrRecognitionTimeout  = apperr.New(apperr.KindRecognitionTimeout, errors.New("recognition attempt timed out"))
	ErrProviderUnavailable = apperr.New(apperr.KindProviderUnavailable, errors.New("no recognition strategy succeeded"))
)

// Strategy is one link in the fallback chain.
type Strategy struct {
	Name        string
	Provider    vision.Provider
	MaxRetries  int
	BaseBackoff time.Duration
	// Timeout bounds the whole attempt sequence, retries and backoff included.
	Timeout time.Duration
}

// NewStrategy returns a strategy for p with default retry and timeout
// settings.
func NewStrategy(p vision.Provider) Strategy {
	return Strategy{
		Name:        p.Name(),
		Provider:    p,
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: defaultBaseBackoff,
		Timeout:     DefaultTimeout,
	}
}

func (s Strategy) normalized() Strategy {
	if s.Name == "" {
		s.Name = s.Provider.Name()
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	return s
}

// Outcome describes a successful recognition.
type Outcome struct {
	Response *vision.Response
	Provider string
	// Attempts counts provider calls across every strategy tried.
	Attempts int
	// Fallback is true when the answer did not come from the first strategy.
	Fallback bool
	// Reasons lists why earlier strategies were passed over, e.g.
	// "primary: timeout".
	Reasons []string
}

type Orchestrator struct {
	strategies []Strategy
}

func New(strategies ...Strategy) *Orchestrator {
	normalized := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s.Provider == nil {
			continue
		}
		normalized = append(normalized, s.normalized())
	}
	return &Orchestrator{strategies: normalized}
}

// Strategies returns the names of the chain in order.
func (o *Orchestrator) Strategies() []string {
	names := make([]string, len(o.strategies))
	for i, s := range o.strategies {
		names[i] = s.Name
	}
	return names
}

// Recognize walks the chain until a strategy answers.
//
// Unconfigured strategies are skipped. Provider rate limiting stops the chain
// and is returned as ProviderRateLimited. Any other failure moves on to the
// next strategy. If every strategy fails, the result is RecognitionTimeout
// when the last failure was a timeout and ProviderUnavailable otherwise.
func (o *Orchestrator) Recognize(ctx context.Context, req vision.Request) (*Outcome, error) {
	logger := logging.L(ctx)
	out := &Outcome{}

	var lastErr error
	for i, s := range o.strategies {
		if err := ctx.Err(); err != nil {
			return out, parentErr(err)
		}

		if !s.Provider.Configured() {
			out.Reasons = append(out.Reasons, s.Name+": unconfigured")
			metrics.FallbacksTotal.WithLabelValues(s.Name, "unconfigured").Inc()
			logger.Debug("strategy_skipped", zap.String("provider", s.Name))
			continue
		}

		resp, attempts, err := o.run(ctx, s, req)
		out.Attempts += attempts

		if err == nil {
			out.Response = resp
			out.Provider = s.Name
			out.Fallback = i > 0
			return out, nil
		}

		var rl *vision.RateLimitedError
		if errors.As(err, &rl) {
			retryAfter := rl.RetryAfter
			if retryAfter <= 0 {
				retryAfter = defaultProviderRetryAfter
			}
			logger.Warn("provider_rate_limited",
				zap.String("provider", s.Name),
				zap.Duration("retry_after", retryAfter),
			)
			return out, apperr.WithRetryAfter(apperr.KindProviderRateLimited, retryAfter, err)
		}

		// The parent went away mid-attempt; no point trying the next strategy.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, parentErr(ctxErr)
		}

		reason := failureReason(err)
		out.Reasons = append(out.Reasons, s.Name+": "+reason)
		metrics.FallbacksTotal.WithLabelValues(s.Name, reason).Inc()
		logger.Warn("strategy_failed",
			zap.String("provider", s.Name),
			zap.String("reason", reason),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		lastErr = err
	}

	if errors.Is(lastErr, ErrRecognitionTimeout) {
		return out, ErrRecognitionTimeout
	}
	return out, ErrProviderUnavailable
}

// run races the strategy's attempt sequence against its timeout. On expiry
// the sequence is abandoned; its late result lands in the buffered channel
// and is dropped.
func (o *Orchestrator) run(ctx context.Context, s Strategy, req vision.Request) (*vision.Response, int, error) {
	tctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var attempts atomic.Int64
	done := make(chan attemptResult, 1)
	go func() {
		done <- callWithRetry(tctx, s, req, &attempts)
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, int(attempts.Load()), ErrRecognitionTimeout
		}
		return r.resp, int(attempts.Load()), r.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, int(attempts.Load()), err
		}
		return nil, int(attempts.Load()), ErrRecognitionTimeout
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrRecognitionTimeout):
		return "timeout"
	case errors.Is(err, vision.ErrMalformedResponse):
		return "malformed"
	case vision.IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}

func parentErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.KindRecognitionTimeout, err)
	}
	return fmt.Errorf("recognition: %w", err)
}
