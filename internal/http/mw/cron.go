package mw

import (
	"crypto/subtle"
	"net/http"
	"time"
)

// RequireCronSecret guards externally triggered job endpoints with a shared
// bearer secret. An empty secret disables the endpoints.
func RequireCronSecret(secret string) func(http.Handler) http.Handler {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(want) == 0 {
				http.Error(w, `{"error":"cron endpoints disabled"}`, http.StatusServiceUnavailable)
				return
			}
			got := []byte(bearerToken(r.Header.Get("Authorization")))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtendWriteDeadline lets a handler write its response up to d after the
// request starts, past the server's WriteTimeout. Cron triggers run a whole
// job before responding.
func ExtendWriteDeadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := http.NewResponseController(w)
			// Unsupported by some writers (httptest, proxies); the request may then time out early.
			_ = rc.SetWriteDeadline(time.Now().Add(d))
			next.ServeHTTP(w, r)
		})
	}
}
