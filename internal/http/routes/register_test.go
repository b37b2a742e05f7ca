package routes

import (
	"log/slog"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"

	"github.com/jmylchreest/autoindex-api/internal/http/handlers"
)

func testHandlers() *Handlers {
	return &Handlers{
		Sites:   handlers.NewSitesHandler(nil, nil),
		Reports: handlers.NewReportsHandler(nil, nil),
		Account: handlers.NewAccountHandler(nil, nil),
		Jobs:    handlers.NewJobsHandler(nil, nil, slog.Default()),
		Readyz:  handlers.NewReadyzHandler(nil).Readyz,
	}
}

func TestRegister_Paths(t *testing.T) {
	_, api := humatest.New(t, NewHumaConfig("https://api.example.com"))
	Register(api, testHandlers())

	paths := api.OpenAPI().Paths
	want := []string{
		"/api/v1/health",
		"/version",
		"/api/v1/sites",
		"/api/v1/sites/sync",
		"/api/v1/sites/{id}",
		"/api/v1/sites/{id}/run",
		"/api/v1/sites/{id}/runs/{run_id}",
		"/api/v1/sites/{id}/urls",
		"/api/v1/sites/{id}/activity",
		"/api/v1/sites/{id}/indexnow-key",
		"/api/v1/sites/{id}/reports",
		"/api/v1/sites/{id}/reports/{day}",
		"/api/v1/credits",
		"/api/v1/credits/transactions",
		"/api/v1/quota",
	}
	for _, p := range want {
		if _, ok := paths[p]; !ok {
			t.Errorf("path %s not registered", p)
		}
	}

	run := paths["/api/v1/sites/{id}/run"].Post
	if run == nil || run.DefaultStatus != http.StatusAccepted {
		t.Error("run endpoint should default to 202")
	}
	if len(paths["/api/v1/sites"].Get.Security) == 0 {
		t.Error("sites endpoint should require bearer auth")
	}
}

func TestRegister_HealthEndpoints(t *testing.T) {
	_, api := humatest.New(t, NewHumaConfig(""))
	Register(api, testHandlers())

	for _, path := range []string{"/healthz", "/livez", "/readyz", "/version"} {
		resp := api.Get(path)
		if resp.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.Code)
		}
	}
}

func TestNewHumaConfig(t *testing.T) {
	cfg := NewHumaConfig("https://api.example.com")
	if cfg.Info.Title != "AutoIndex API" {
		t.Errorf("title = %q", cfg.Info.Title)
	}
	if len(cfg.Servers) != 1 {
		t.Errorf("servers = %d, want 1", len(cfg.Servers))
	}
	if _, ok := cfg.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Error("bearerAuth scheme missing")
	}
}
