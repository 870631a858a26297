package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mealscan-gateway/internal/auth"
	"mealscan-gateway/internal/handlers"
	"mealscan-gateway/internal/metrics"
	"mealscan-gateway/internal/middleware"
	"mealscan-gateway/pkg/logging/logging"
)

// DefaultRequestTimeout sits above the recognition timeout so the pipeline's
// own fallback answers before the transport gives up.
const DefaultRequestTimeout = 45 * time.Second

const healthTimeout = 2 * time.Second

type Options struct {
	RequestTimeout time.Duration
	// MaxBodyBytes caps request bodies. Base64 inflates images by 4/3, so
	// this is set above the decoded image ceiling.
	MaxBodyBytes int64
	Auth         auth.Config
	// Health reports whether shared backends are reachable. Nil means the
	// process has none and is healthy whenever it serves.
	Health func(ctx context.Context) error
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 16 << 20
	}
	return o
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, analyze *handlers.AnalyzeHandler, opts Options) {
	opts = opts.withDefaults()

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.AccessLog())
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
		r.Use(auth.Middleware(opts.Auth))
		r.Post("/meals/analyze", analyze.Analyze)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := opts.Health(ctx); err != nil {
				logging.L(r.Context()).Warn("health_check_failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
