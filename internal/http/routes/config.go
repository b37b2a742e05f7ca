// Package routes provides shared route registration for the AutoIndex API.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/autoindex-api/internal/http/mw"
	"github.com/jmylchreest/autoindex-api/internal/version"
)

// NewHumaConfig creates the shared Huma configuration for the API.
// This includes API metadata, security schemes, and tag definitions.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("AutoIndex API", version.Get().Short())
	cfg.Info.Description = "Watches sitemaps and submits new or changed pages to Google and IndexNow."

	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Clerk session token in the Authorization header as `Bearer <token>`.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Sites", Description: "Tracked sites, engines and on-demand runs", Extensions: map[string]any{"x-displayName": "Sites"}},
		{Name: "Reports", Description: "Daily indexing reports", Extensions: map[string]any{"x-displayName": "Reports"}},
		{Name: "Account", Description: "Credits and daily API quota", Extensions: map[string]any{"x-displayName": "Account"}},
		{Name: "Jobs", Description: "Scheduled job status", Extensions: map[string]any{"x-displayName": "Jobs"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}
