package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != DefaultLogger() {
		t.Fatalf("expected default logger for bare context")
	}
}

func TestWithLoggerRoundTrip(t *testing.T) {
	l := zaptest.NewLogger(t)
	ctx := WithLogger(context.Background(), l)
	if L(ctx) != l {
		t.Fatalf("expected context logger to be returned")
	}

	ctx = WithFields(ctx, zap.String("caller_id", "u1"))
	if L(ctx) == l {
		t.Fatalf("expected WithFields to derive a new logger")
	}
}

func TestNewLoggerWithLevel(t *testing.T) {
	l := NewLoggerWith(Options{Env: "dev", Level: "warn"})
	if l.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !l.Core().Enabled(zap.ErrorLevel) {
		t.Fatalf("error should be enabled at warn level")
	}
}
