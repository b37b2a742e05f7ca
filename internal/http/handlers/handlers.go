// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/autoindex-api/internal/http/mw"
	"github.com/jmylchreest/autoindex-api/internal/version"
)

// HealthCheckOutput represents health check response.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
}

// HealthCheck returns the health status of the API.
func HealthCheck(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
	out := &HealthCheckOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = version.Get().Short()
	return out, nil
}

// ProbeOutput is the body of the liveness and readiness probes.
type ProbeOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Livez reports that the process is up.
func Livez(ctx context.Context, input *struct{}) (*ProbeOutput, error) {
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// DBPinger is satisfied by *sql.DB.
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// ReadyzHandler reports readiness once the database answers.
type ReadyzHandler struct {
	db DBPinger
}

// NewReadyzHandler creates a readiness handler.
func NewReadyzHandler(db DBPinger) *ReadyzHandler {
	return &ReadyzHandler{db: db}
}

// Readyz pings the database.
func (h *ReadyzHandler) Readyz(ctx context.Context, input *struct{}) (*ProbeOutput, error) {
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			return nil, huma.Error503ServiceUnavailable("database unavailable")
		}
	}
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// VersionOutput is the build information response.
type VersionOutput struct {
	Body version.Info
}

// Version returns build information.
func Version(ctx context.Context, input *struct{}) (*VersionOutput, error) {
	return &VersionOutput{Body: version.Get()}, nil
}

// getUserID extracts user ID from context.
func getUserID(ctx context.Context) string {
	claims := mw.GetUserClaims(ctx)
	if claims == nil {
		return ""
	}
	return claims.UserID
}

func requireUser(ctx context.Context) (string, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return "", huma.Error401Unauthorized("unauthorized")
	}
	return userID, nil
}
