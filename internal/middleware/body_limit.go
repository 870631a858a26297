package middleware

import (
	"net/http"

	"mealscan-gateway/internal/apperr"
)

// MaxBodySize caps the request body at n bytes. Reads past the cap fail with
// *http.MaxBytesError, which handlers report as PayloadTooLarge.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				apperr.WriteHTTP(w, apperr.New(apperr.KindPayloadTooLarge, nil))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
