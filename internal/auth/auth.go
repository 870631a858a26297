// Package auth resolves the caller identity for each request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"mealscan-gateway/internal/apperr"
	"mealscan-gateway/pkg/logging/logging"
)

// AnonymousCaller is used when authentication is disabled and no caller
// header is sent.
const AnonymousCaller = "anon"

// CallerHeader names the caller when no JWT secret is configured.
const CallerHeader = "X-User-ID"

type Config struct {
	// JWTSecret is the HS256 signing key. Empty disables token checks.
	JWTSecret string `yaml:"jwt_secret"`
	// Required rejects requests without a verified token even when no
	// secret is configured.
	Required bool `yaml:"required"`
}

type ctxKey struct{}

// WithCaller stores callerID in ctx.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, callerID)
}

// CallerFromContext returns the caller set by Middleware.
func CallerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

var errUnauthenticated = apperr.New(apperr.KindUnauthenticated, nil)

// Middleware authenticates requests and stores the caller in the context.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	secret := []byte(cfg.JWTSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if len(secret) == 0 {
				if cfg.Required {
					logging.L(ctx).Error("auth required but no jwt secret configured")
					apperr.WriteHTTP(w, errUnauthenticated)
					return
				}
				caller := strings.TrimSpace(r.Header.Get(CallerHeader))
				if caller == "" {
					caller = AnonymousCaller
				}
				next.ServeHTTP(w, r.WithContext(withCallerLogger(ctx, caller)))
				return
			}

			caller, err := VerifyBearer(r.Header.Get("Authorization"), secret)
			if err != nil {
				logging.L(ctx).Info("auth_rejected", zap.Error(err))
				apperr.WriteHTTP(w, errUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(withCallerLogger(ctx, caller)))
		})
	}
}

func withCallerLogger(ctx context.Context, caller string) context.Context {
	ctx = WithCaller(ctx, caller)
	return logging.WithFields(ctx, zap.String("caller_id", caller))
}

// VerifyBearer validates an "Authorization: Bearer <jwt>" header value signed
// with HS256 and returns the caller identity from the sub or userId claim.
func VerifyBearer(header string, secret []byte) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return "", errors.New("empty bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}

	switch id := claims["userId"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return strconv.FormatInt(int64(id), 10), nil
	}
	return "", errors.New("token has no caller identity")
}
