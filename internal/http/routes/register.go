package routes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/autoindex-api/internal/http/handlers"
	"github.com/jmylchreest/autoindex-api/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
func Register(api huma.API, h *Handlers) {
	// =========================================================================
	// Public Routes (no auth required)
	// =========================================================================

	mw.PublicGet(api, "/api/v1/health", handlers.HealthCheck,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("healthCheck"))
	mw.PublicGet(api, "/version", handlers.Version,
		mw.WithTags("Health"),
		mw.WithSummary("Build information"),
		mw.WithOperationID("getVersion"))

	// Probes (hidden from docs)
	mw.HiddenGet(api, "/healthz", handlers.HealthCheck)
	mw.HiddenGet(api, "/livez", handlers.Livez)
	if h.Readyz != nil {
		mw.HiddenGet(api, "/readyz", h.Readyz)
	}

	// =========================================================================
	// Protected Routes (require bearer auth)
	// =========================================================================

	// --- Sites ---
	mw.ProtectedGet(api, "/api/v1/sites", h.Sites.ListSites,
		mw.WithTags("Sites"),
		mw.WithSummary("List sites"),
		mw.WithOperationID("listSites"))
	mw.ProtectedPost(api, "/api/v1/sites/sync", h.Sites.SyncSites,
		mw.WithTags("Sites"),
		mw.WithSummary("Import sites from Search Console"),
		mw.WithDescription("Creates a site for every verified Search Console property the user owns. Existing sites are left unchanged."),
		mw.WithOperationID("syncSites"))
	mw.ProtectedGet(api, "/api/v1/sites/{id}", h.Sites.GetSite,
		mw.WithTags("Sites"),
		mw.WithSummary("Get site"),
		mw.WithOperationID("getSite"))
	mw.ProtectedPut(api, "/api/v1/sites/{id}", h.Sites.UpdateSite,
		mw.WithTags("Sites"),
		mw.WithSummary("Update site engines"),
		mw.WithDescription("Toggles Google and IndexNow submission and sets the sitemap URL. Enabling IndexNow checks that the key file is published; when it is not, the setting stays off and a warning is returned."),
		mw.WithOperationID("updateSite"))
	mw.ProtectedDelete(api, "/api/v1/sites/{id}", h.Sites.DeleteSite,
		mw.WithTags("Sites"),
		mw.WithSummary("Delete site"),
		mw.WithOperationID("deleteSite"))
	mw.ProtectedGet(api, "/api/v1/sites/{id}/indexnow-key", h.Sites.GetIndexNowKey,
		mw.WithTags("Sites"),
		mw.WithSummary("Get IndexNow key"),
		mw.WithOperationID("getIndexNowKey"))
	mw.ProtectedPost(api, "/api/v1/sites/{id}/run", h.Sites.RunSite,
		mw.WithTags("Sites"),
		mw.WithSummary("Run site now"),
		mw.WithDescription("Queues an immediate sitemap sync and submission for the site. Poll the returned run for the report."),
		mw.WithStatus(http.StatusAccepted),
		mw.WithOperationID("runSite"))
	mw.ProtectedGet(api, "/api/v1/sites/{id}/runs/{run_id}", h.Sites.GetRun,
		mw.WithTags("Sites"),
		mw.WithSummary("Get run"),
		mw.WithOperationID("getRun"))
	mw.ProtectedGet(api, "/api/v1/sites/{id}/urls", h.Sites.ListURLs,
		mw.WithTags("Sites"),
		mw.WithSummary("List tracked URLs"),
		mw.WithOperationID("listUrls"))
	mw.ProtectedGet(api, "/api/v1/sites/{id}/activity", h.Sites.ListActivity,
		mw.WithTags("Sites"),
		mw.WithSummary("List site activity"),
		mw.WithOperationID("listActivity"))

	// --- Reports ---
	mw.ProtectedGet(api, "/api/v1/sites/{id}/reports", h.Reports.ListReports,
		mw.WithTags("Reports"),
		mw.WithSummary("List daily reports"),
		mw.WithOperationID("listReports"))
	mw.ProtectedGet(api, "/api/v1/sites/{id}/reports/{day}", h.Reports.GetReport,
		mw.WithTags("Reports"),
		mw.WithSummary("Get daily report"),
		mw.WithOperationID("getReport"))

	// --- Account ---
	mw.ProtectedGet(api, "/api/v1/credits", h.Account.GetBalance,
		mw.WithTags("Account"),
		mw.WithSummary("Get credit balance"),
		mw.WithOperationID("getBalance"))
	mw.ProtectedGet(api, "/api/v1/credits/transactions", h.Account.ListTransactions,
		mw.WithTags("Account"),
		mw.WithSummary("List credit transactions"),
		mw.WithOperationID("listTransactions"))
	mw.ProtectedGet(api, "/api/v1/quota", h.Account.GetQuota,
		mw.WithTags("Account"),
		mw.WithSummary("Get daily quota"),
		mw.WithOperationID("getQuota"))

	// --- Jobs (operators only, hidden from OpenAPI) ---
	mw.ProtectedGet(api, "/api/v1/jobs", h.Jobs.GetJobStatus,
		mw.WithTags("Jobs"),
		mw.WithSummary("Get scheduled job status"),
		mw.WithOperationID("getJobStatus"),
		mw.WithAdmin(),
		mw.WithHidden())
}
