package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheLookupsTotal counts content cache lookups by result (hit|miss|error).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealscan_cache_lookups_total",
			Help: "Content-addressed cache lookups by result.",
		},
		[]string{"result"},
	)

	// RateLimitDecisionsTotal counts admission decisions (allowed|denied|error).
	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealscan_ratelimit_decisions_total",
			Help: "Per-caller rate limiter decisions.",
		},
		[]string{"decision"},
	)

	// ProviderAttemptsTotal counts individual recognition provider calls.
	ProviderAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealscan_provider_attempts_total",
			Help: "Recognition provider call attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// FallbacksTotal counts strategies skipped or abandoned, by reason.
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealscan_provider_fallbacks_total",
			Help: "Recognition strategies abandoned in favour of the next one.",
		},
		[]string{"provider", "reason"},
	)

	// AnalysisDurationSeconds observes the full pipeline latency.
	AnalysisDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealscan_analysis_duration_seconds",
			Help:    "Meal analysis pipeline latency in seconds.",
			Buckets: []float64{0.005, 0.05, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome", "provider"},
	)

	// RecorderEventsTotal counts analysis record writes (saved|failed|dropped).
	RecorderEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealscan_recorder_events_total",
			Help: "Analysis record persistence events.",
		},
		[]string{"event"},
	)

	// GatewayLatencySeconds is HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"path", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register is called once in main() to register metrics.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheLookupsTotal,
			RateLimitDecisionsTotal,
			ProviderAttemptsTotal,
			FallbacksTotal,
			AnalysisDurationSeconds,
			RecorderEventsTotal,
			GatewayLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request. The route
// pattern is used as label when chi has matched one, to bound cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		GatewayLatencySeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
