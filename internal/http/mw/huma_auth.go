package mw

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/autoindex-api/internal/logging"
)

// HumaAuthConfig holds dependencies for the Huma auth middleware.
type HumaAuthConfig struct {
	Verifier TokenVerifier
	Logger   *slog.Logger
}

// SecurityScheme is the name of the security scheme used in OpenAPI.
const SecurityScheme = "bearerAuth"

// OperationMetadataKey is the key for storing additional operation requirements.
type OperationMetadataKey string

const (
	// MetaKeyRequireAdmin is metadata key for the operator role requirement.
	MetaKeyRequireAdmin OperationMetadataKey = "requireAdmin"
)

// HumaAuth returns a Huma middleware that handles authentication based on operation security.
// It checks ctx.Operation().Security to determine if authentication is required.
func HumaAuth(api huma.API, cfg HumaAuthConfig) func(ctx huma.Context, next func(huma.Context)) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op == nil || !operationRequiresAuth(op) {
			next(ctx)
			return
		}

		// IdentifyUser may already have verified the token.
		claims := GetUserClaims(ctx.Context())
		if claims == nil {
			authHeader := ctx.Header("Authorization")
			if authHeader == "" {
				huma.WriteErr(api, ctx, http.StatusUnauthorized, "missing authorization header")
				return
			}

			var err error
			claims, err = validateClerkToken(cfg.Verifier, bearerToken(authHeader))
			if err != nil {
				logger.Debug("auth validation failed", "error", err)
				huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid token")
				return
			}
		}

		if requiresAdmin(op) && !claims.Admin {
			huma.WriteErr(api, ctx, http.StatusForbidden, "admin access required")
			return
		}

		stdCtx := WithUserClaims(ctx.Context(), claims)
		stdCtx = logging.WithUserID(stdCtx, claims.UserID)

		next(huma.WithContext(ctx, stdCtx))
	}
}

// operationRequiresAuth checks if the operation has bearerAuth in its security requirements.
func operationRequiresAuth(op *huma.Operation) bool {
	for _, secReq := range op.Security {
		if _, ok := secReq[SecurityScheme]; ok {
			return true
		}
	}
	return false
}

// requiresAdmin checks operation metadata for the admin requirement.
func requiresAdmin(op *huma.Operation) bool {
	if op.Metadata == nil {
		return false
	}
	b, _ := op.Metadata[string(MetaKeyRequireAdmin)].(bool)
	return b
}
