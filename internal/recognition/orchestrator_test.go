package recognition

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"mealscan-gateway/internal/apperr"
	"mealscan-gateway/internal/vision"
)

type fakeProvider struct {
	name       string
	configured bool
	calls      atomic.Int32
	recognize  func(ctx context.Context, call int) (*vision.Response, error)
}

func (p *fakeProvider) Name() string     { return p.name }
func (p *fakeProvider) Configured() bool { return p.configured }

func (p *fakeProvider) Recognize(ctx context.Context, _ vision.Request) (*vision.Response, error) {
	n := int(p.calls.Add(1))
	return p.recognize(ctx, n)
}

func okResponse(name string) *vision.Response {
	return &vision.Response{Items: []vision.Item{{Name: name}}}
}

func fastStrategy(p vision.Provider) Strategy {
	s := NewStrategy(p)
	s.BaseBackoff = time.Millisecond
	s.Timeout = 2 * time.Second
	return s
}

func syntheticStrategy() Strategy {
	return fastStrategy(vision.NewSynthetic())
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	primary := &fakeProvider{name: "primary", configured: true,
		recognize: func(_ context.Context, call int) (*vision.Response, error) {
			if call <= 2 {
				return nil, &vision.StatusError{Provider: "primary", StatusCode: http.StatusBadGateway}
			}
			return okResponse("Rice"), nil
		},
	}

	o := New(fastStrategy(primary), syntheticStrategy())
	out, err := o.Recognize(context.Background(), vision.Request{Image: []byte("img")})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if out.Provider != "primary" || out.Fallback {
		t.Fatalf("expected primary result, got provider=%q fallback=%v", out.Provider, out.Fallback)
	}
	if out.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", out.Attempts)
	}
	if out.Response.Items[0].Name != "Rice" {
		t.Fatalf("unexpected response: %+v", out.Response)
	}
}

func TestRetriesExhaustedFallsBack(t *testing.T) {
	primary := &fakeProvider{name: "primary", configured: true,
		recognize: func(context.Context, int) (*vision.Response, error) {
			return nil, &vision.StatusError{Provider: "primary", StatusCode: http.StatusServiceUnavailable}
		},
	}

	o := New(fastStrategy(primary), syntheticStrategy())
	out, err := o.Recognize(context.Background(), vision.Request{Image: []byte("img")})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got := primary.calls.Load(); got != DefaultMaxRetries+1 {
		t.Fatalf("expected %d primary calls, got %d", DefaultMaxRetries+1, got)
	}
	if out.Provider != "synthetic" || !out.Fallback {
		t.Fatalf("expected synthetic fallback, got %+v", out)
	}
	if out.Attempts != DefaultMaxRetries+2 {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxRetries+2, out.Attempts)
	}
	if len(out.Reasons) != 1 || out.Reasons[0] != "primary: transient" {
		t.Fatalf("unexpected reasons: %v", out.Reasons)
	}
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	primary := &fakeProvider{name: "primary", configured: true,
		recognize: func(context.Context, int) (*vision.Response, error) {
			return nil, &vision.StatusError{Provider: "primary", StatusCode: http.StatusBadRequest}
		},
	}

	o := New(fastStrategy(primary), syntheticStrategy())
	out, err := o.Recognize(context.Background(), vision.Request{Image: []byte("img")})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if primary.calls.Load() != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", primary.calls.Load())
	}
	if out.Provider != "synthetic" {
		t.Fatalf("expected fallback, got %q", out.Provider)
	}
}

func TestHangingProviderTimesOutAndFallsBack(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	primary := &fakeProvider{name: "primary", configured: true,
		recognize: func(context.Context, int) (*vision.Response, error) {
			// Ignores ctx entirely.
			<-release
			return okResponse("late"), nil
		},
	}

	s := fastStrategy(primary)
	s.Timeout = 50 * time.Millisecond
	o := New(s, syntheticStrategy())

	start := time.Now()
	out, err := o.Recognize(context.Background(), vision.Request{Image: []byte("img")})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout did not fire promptly: %s", elapsed)
	}
	if out.Provider != "synthetic" {
		t.Fatalf("expected synthetic fallback, got %q", out.Provider)
	}
	if len(out.Reasons) != 1 || out.Reasons[0] != "primary: timeout" {
		t.Fatalf("unexpected reasons: %v", out.Reasons)
	}
	if primary.calls.Load() != 1 {
		t.Fatalf("timeouts must not be retried, got %d calls", primary.calls.Load())
	}
}

func TestTimeoutOnLastStrategySurfacesRecognitionTimeout(t *testing.T) {
	primary := &fakeProvider{name: "primary", configured: true,
		recognize: func(ctx context.Context, _ int) (*vision.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s := fastStrategy(primary)
	s.Timeout = 20 * time.Millisecond

	_, err := New(s).Recognize(context.Background(), vision.Request{})
	if !apperr.Is(err, apperr.KindRecognitionTimeout) {
		t.Fatalf("expected RecognitionTimeout, got %v", err)
	}
}

func TestProviderRateLimitStopsChain(t *testing.T) {
	primary := &fakeProvider{name: "primary", configured: true,
		recognize: func(context.Context, int) (*vision.Response, error) {
			return nil, &vision.RateLimitedError{Provider: "primary", RetryAfter: 12 * time.Second}
		},
	}
	fallback := &fakeProvider{name: "backup", configured: true,
		recognize: func(context.Context, int) (*vision.Response, error) {
			return okResponse("x"), nil
		},
	}

	_, err := New(fastStrategy(primary), fastStrategy(fallback)).
		Recognize(context.Background(), vision.Request{})
	if !apperr.Is(err, apperr.KindProviderRateLimited) {
		t.Fatalf("expected ProviderRateLimited, got %v", err)
	}
	if apperr.RetryAfterOf(err) != 12*time.Second {
		t.Fatalf("expected retry hint of 12s, got %s", apperr.RetryAfterOf(err))
	}
	if primary.calls.Load() != 1 {
		t.Fatalf("rate limiting must not be retried, got %d calls", primary.calls.Load())
	}
	if fallback.calls.Load() != 0 {
		t.Fatalf("rate limiting must not fall back")
	}
}

func TestUnconfiguredPrimaryGoesStraightToSynthetic(t *testing.T) {
	primary := &fakeProvider{name: "primary", configured: false,
		recognize: func(context.Context, int) (*vision.Response, error) {
			t.Fatalf("unconfigured provider must not be called")
			return nil, nil
		},
	}

	out, err := New(fastStrategy(primary), syntheticStrategy()).
		Recognize(context.Background(), vision.Request{Image: []byte("img"), CategoryHint: vision.CategorySnack})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if out.Provider != "synthetic" || out.Attempts != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(out.Reasons) != 1 || out.Reasons[0] != "primary: unconfigured" {
		t.Fatalf("unexpected reasons: %v", out.Reasons)
	}
}

func TestExhaustedChainIsProviderUnavailable(t *testing.T) {
	primary := &fakeProvider{name: "primary", configured: true,
		recognize: func(context.Context, int) (*vision.Response, error) {
			return nil, vision.ErrMalformedResponse
		},
	}

	_, err := New(fastStrategy(primary)).Recognize(context.Background(), vision.Request{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestParentCancellationStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &fakeProvider{name: "primary", configured: true,
		recognize: func(ctx context.Context, _ int) (*vision.Response, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	fallback := &fakeProvider{name: "backup", configured: true,
		recognize: func(context.Context, int) (*vision.Response, error) {
			return okResponse("x"), nil
		},
	}

	_, err := New(fastStrategy(primary), fastStrategy(fallback)).Recognize(ctx, vision.Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fallback.calls.Load() != 0 {
		t.Fatalf("cancelled request must not fall back")
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 0; attempt < 20; attempt++ {
		d := computeBackoff(base, attempt)
		if d < 0 || d > maxBackoff {
			t.Fatalf("attempt %d: backoff %s out of bounds", attempt, d)
		}
	}
	if d := computeBackoff(base, 0); d > base {
		t.Fatalf("first backoff must not exceed base, got %s", d)
	}
}
