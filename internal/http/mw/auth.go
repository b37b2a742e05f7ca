// Package mw contains HTTP middleware for the autoindex-api.
package mw

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmylchreest/autoindex-api/internal/auth"
	"github.com/jmylchreest/autoindex-api/internal/logging"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserClaimsKey is the context key for user claims.
	UserClaimsKey ContextKey = "user_claims"
)

// UserClaims identifies the signed-in user for a request.
type UserClaims struct {
	UserID string // Clerk user ID (sub claim)
	Email  string
	Name   string
	Admin  bool // From Clerk public_metadata.role
}

// TokenVerifier verifies a session token. *auth.ClerkVerifier satisfies it.
type TokenVerifier interface {
	VerifyToken(tokenString string) (*auth.ClerkClaims, error)
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(header)
}

// validateClerkToken validates a Clerk JWT and converts it to UserClaims.
func validateClerkToken(verifier TokenVerifier, tokenString string) (*UserClaims, error) {
	if verifier == nil || tokenString == "" {
		return nil, auth.ErrInvalidToken
	}
	clerkClaims, err := verifier.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if clerkClaims.UserID == "" {
		return nil, auth.ErrMissingClaims
	}

	// NOTE: public_metadata is only present when the Clerk JWT template includes
	// { "public_metadata": "{{user.public_metadata}}" }
	return &UserClaims{
		UserID: clerkClaims.UserID,
		Email:  clerkClaims.Email,
		Name:   clerkClaims.FullName,
		Admin:  clerkClaims.IsAdmin(),
	}, nil
}

// WithUserClaims stores claims on the context.
func WithUserClaims(ctx context.Context, claims *UserClaims) context.Context {
	return context.WithValue(ctx, UserClaimsKey, claims)
}

// GetUserClaims retrieves user claims from context.
func GetUserClaims(ctx context.Context) *UserClaims {
	claims, ok := ctx.Value(UserClaimsKey).(*UserClaims)
	if !ok {
		return nil
	}
	return claims
}

// IdentifyUser attaches claims for a valid bearer token so that per-user rate
// limiting can key on them. Requests without a valid token pass through
// unchanged; enforcement happens in HumaAuth.
func IdentifyUser(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := validateClerkToken(verifier, bearerToken(header))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithUserClaims(r.Context(), claims)
			ctx = logging.WithUserID(ctx, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
