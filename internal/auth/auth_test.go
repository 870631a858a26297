package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signed(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := CallerFromContext(r.Context())
		_, _ = w.Write([]byte(id))
	})
}

func do(h http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/meals/analyze", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareAcceptsSubject(t *testing.T) {
	h := Middleware(Config{JWTSecret: testSecret})(echoCaller())
	tok := signed(t, jwt.MapClaims{"sub": "user-42", "exp": time.Now().Add(time.Hour).Unix()}, testSecret)

	rec := do(h, "Authorization", "Bearer "+tok)
	if rec.Code != http.StatusOK || rec.Body.String() != "user-42" {
		t.Fatalf("expected user-42, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestMiddlewareAcceptsNumericUserID(t *testing.T) {
	h := Middleware(Config{JWTSecret: testSecret})(echoCaller())
	tok := signed(t, jwt.MapClaims{"userId": 7, "exp": time.Now().Add(time.Hour).Unix()}, testSecret)

	rec := do(h, "Authorization", "Bearer "+tok)
	if rec.Body.String() != "7" {
		t.Fatalf("expected caller 7, got %q", rec.Body.String())
	}
}

func TestMiddlewareRejects(t *testing.T) {
	h := Middleware(Config{JWTSecret: testSecret})(echoCaller())

	cases := map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"wrong secret": "Bearer " + signed(t, jwt.MapClaims{"sub": "u"}, "other"),
		"expired":      "Bearer " + signed(t, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}, testSecret),
		"no identity":  "Bearer " + signed(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}, testSecret),
	}
	for name, header := range cases {
		rec := do(h, "Authorization", header)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestMiddlewareWithoutSecretUsesHeader(t *testing.T) {
	h := Middleware(Config{})(echoCaller())

	if rec := do(h, CallerHeader, "local-user"); rec.Body.String() != "local-user" {
		t.Fatalf("expected header caller, got %q", rec.Body.String())
	}
	if rec := do(h, "", ""); rec.Body.String() != AnonymousCaller {
		t.Fatalf("expected anonymous caller, got %q", rec.Body.String())
	}
}

func TestMiddlewareRequiredWithoutSecret(t *testing.T) {
	h := Middleware(Config{Required: true})(echoCaller())
	if rec := do(h, CallerHeader, "local-user"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
