package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"mealscan-gateway/internal/analysis"
	"mealscan-gateway/internal/auth"
	"mealscan-gateway/internal/handlers"
	"mealscan-gateway/internal/nutrition"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(context.Context, analysis.Request) (*analysis.Response, error) {
	return &analysis.Response{Result: &nutrition.Result{AnalysisID: "id-1"}}, nil
}

func newTestRouter(t *testing.T, opts Options) *chi.Mux {
	r := chi.NewRouter()
	SetupRouter(r, zaptest.NewLogger(t), handlers.NewAnalyzeHandler(stubAnalyzer{}), opts)
	return r
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, Options{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", rec.Code, rec.Body.String())
	}
}

func TestHealthzReportsBackendFailure(t *testing.T) {
	healthy := true
	r := newTestRouter(t, Options{Health: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("health check should run under a deadline")
		}
		if !healthy {
			return errors.New("redis: connection refused")
		}
		return nil
	}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with healthy backend, got %d", rec.Code)
	}

	healthy = false
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != "unavailable" {
		t.Fatalf("unexpected healthz response %d %q", rec.Code, rec.Body.String())
	}
}

func TestAnalyzeRouteRequiresTokenWhenSecretSet(t *testing.T) {
	r := newTestRouter(t, Options{Auth: auth.Config{JWTSecret: "s3cret"}})

	req := httptest.NewRequest(http.MethodPost, "/v1/meals/analyze", strings.NewReader(`{"image":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"Unauthenticated"`) {
		t.Fatalf("expected Unauthenticated envelope, got %s", rec.Body.String())
	}
}

func TestAnalyzeRouteOpenWithoutSecret(t *testing.T) {
	r := newTestRouter(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/meals/analyze", strings.NewReader(`{"image":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"analysisId":"id-1"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestBodyLimitApplies(t *testing.T) {
	r := newTestRouter(t, Options{MaxBodyBytes: 32})

	req := httptest.NewRequest(http.MethodPost, "/v1/meals/analyze",
		strings.NewReader(`{"image":"`+strings.Repeat("A", 200)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
