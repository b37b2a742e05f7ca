package mw

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/autoindex-api/internal/logging"
)

// LogContext copies chi's request ID onto the logging context so request
// logs and runtime log filters can match on request_id.
// Must run after middleware.RequestID.
func LogContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := middleware.GetReqID(r.Context()); id != "" {
				r = r.WithContext(logging.WithRequestID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}
