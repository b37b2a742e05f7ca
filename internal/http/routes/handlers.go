package routes

import (
	"context"

	"github.com/jmylchreest/autoindex-api/internal/http/handlers"
)

// SiteHandlers defines the site operations.
type SiteHandlers interface {
	ListSites(ctx context.Context, input *struct{}) (*handlers.ListSitesOutput, error)
	SyncSites(ctx context.Context, input *struct{}) (*handlers.ListSitesOutput, error)
	GetSite(ctx context.Context, input *handlers.SiteIDInput) (*handlers.SiteOutput, error)
	UpdateSite(ctx context.Context, input *handlers.UpdateSiteInput) (*handlers.UpdateSiteOutput, error)
	DeleteSite(ctx context.Context, input *handlers.SiteIDInput) (*handlers.DeleteSiteOutput, error)
	GetIndexNowKey(ctx context.Context, input *handlers.SiteIDInput) (*handlers.IndexNowKeyOutput, error)
	RunSite(ctx context.Context, input *handlers.SiteIDInput) (*handlers.RunOutput, error)
	GetRun(ctx context.Context, input *handlers.GetRunInput) (*handlers.RunOutput, error)
	ListURLs(ctx context.Context, input *handlers.ListURLsInput) (*handlers.ListURLsOutput, error)
	ListActivity(ctx context.Context, input *handlers.ListActivityInput) (*handlers.ListActivityOutput, error)
}

// ReportHandlers defines the report operations.
type ReportHandlers interface {
	ListReports(ctx context.Context, input *handlers.ListReportsInput) (*handlers.ListReportsOutput, error)
	GetReport(ctx context.Context, input *handlers.GetReportInput) (*handlers.GetReportOutput, error)
}

// AccountHandlers defines the credit and quota operations.
type AccountHandlers interface {
	GetBalance(ctx context.Context, input *struct{}) (*handlers.BalanceOutput, error)
	ListTransactions(ctx context.Context, input *handlers.ListTransactionsInput) (*handlers.ListTransactionsOutput, error)
	GetQuota(ctx context.Context, input *struct{}) (*handlers.QuotaOutput, error)
}

// JobHandlers defines the job status operations.
type JobHandlers interface {
	GetJobStatus(ctx context.Context, input *struct{}) (*handlers.JobStatusOutput, error)
}

// Handlers contains all handler implementations needed for route registration.
type Handlers struct {
	Sites   SiteHandlers
	Reports ReportHandlers
	Account AccountHandlers
	Jobs    JobHandlers

	Readyz func(ctx context.Context, input *struct{}) (*handlers.ProbeOutput, error)
}
