package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// UserRequestsPerMinute limits each signed-in user. 0 means unlimited.
	UserRequestsPerMinute int
	// IPRequestsPerMinute limits unauthenticated requests by IP.
	IPRequestsPerMinute int
}

// DefaultRateLimitConfig returns the production limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		UserRequestsPerMinute: 120,
		IPRequestsPerMinute:   60,
	}
}

// userKey keys requests by user ID, falling back to the client IP.
func userKey(r *http.Request) (string, error) {
	claims := GetUserClaims(r.Context())
	if claims == nil || claims.UserID == "" {
		return httprate.KeyByIP(r)
	}
	return "user:" + claims.UserID, nil
}

// RateLimitByUser returns a middleware that rate limits by user ID.
// Should be applied AFTER authentication middleware.
// Falls back to IP-based limiting if user is not authenticated.
func RateLimitByUser(cfg RateLimitConfig) func(http.Handler) http.Handler {
	var userLimiter *httprate.RateLimiter
	if cfg.UserRequestsPerMinute > 0 {
		userLimiter = httprate.NewRateLimiter(cfg.UserRequestsPerMinute, time.Minute,
			httprate.WithKeyFuncs(userKey))
	}
	ipLimiter := httprate.NewRateLimiter(cfg.IPRequestsPerMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP))

	return func(next http.Handler) http.Handler {
		limitedUser := next
		if userLimiter != nil {
			limitedUser = userLimiter.Handler(next)
		}
		limitedIP := ipLimiter.Handler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims := GetUserClaims(r.Context()); claims != nil && claims.UserID != "" {
				limitedUser.ServeHTTP(w, r)
				return
			}
			limitedIP.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
// Used on public and webhook endpoints.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
