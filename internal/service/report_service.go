package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// maxReportDetailItems caps each URL list in a report's detail document.
const maxReportDetailItems = 500

// RunOutcome collects what one pipeline run did for a site.
type RunOutcome struct {
	Diff     *DiffResult
	Liveness []LivenessResult
	Dispatch *DispatchResult
	Errors   []string
}

// ReportDetails is the per-URL breakdown stored with a daily report.
type ReportDetails struct {
	SitemapURL string           `json:"sitemap_url,omitempty"`
	New        []string         `json:"new,omitempty"`
	Changed    []string         `json:"changed,omitempty"`
	Removed    []string         `json:"removed,omitempty"`
	Dead       []LivenessResult `json:"dead,omitempty"`
	Redirects  []LivenessResult `json:"redirects,omitempty"`
	Google     GoogleDetails    `json:"google"`
	IndexNow   IndexNowDetails  `json:"indexnow"`
	Errors     []string         `json:"errors,omitempty"`
	Truncated  bool             `json:"truncated,omitempty"`
}

// GoogleDetails lists Indexing API outcomes by URL.
type GoogleDetails struct {
	Submitted    []string    `json:"submitted,omitempty"`
	Failed       []URLReason `json:"failed,omitempty"`
	RateLimited  []string    `json:"rate_limited,omitempty"`
	Deferred     []string    `json:"deferred,omitempty"`
	ChargeFailed []string    `json:"charge_failed,omitempty"`
}

// URLReason is a URL with a failure reason.
type URLReason struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// IndexNowDetails summarises the IndexNow submission.
type IndexNowDetails struct {
	Submitted int    `json:"submitted"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// ReportService aggregates run outcomes into per-site daily reports.
type ReportService struct {
	reports repository.DailyReportRepository
	urls    repository.TrackedURLRepository
	ledger  *LedgerService
	storage *StorageService
	logger  *slog.Logger
	now     func() time.Time
}

// NewReportService creates a new report service. storage may be nil.
func NewReportService(reports repository.DailyReportRepository, urls repository.TrackedURLRepository, ledger *LedgerService, storage *StorageService, logger *slog.Logger) *ReportService {
	return &ReportService{
		reports: reports,
		urls:    urls,
		ledger:  ledger,
		storage: storage,
		logger:  logger.With("component", "reports"),
		now:     time.Now,
	}
}

// ShouldNotify reports whether the owner should hear about this report.
func ShouldNotify(r *models.DailyReport) bool {
	return r.HasActivity()
}

// Build writes today's report for the site, replacing any earlier one, and
// reports whether the owner should be notified.
func (s *ReportService) Build(ctx context.Context, site *models.Site, outcome *RunOutcome) (*models.DailyReport, bool, error) {
	report := &models.DailyReport{
		SiteID:     site.ID,
		ReportDate: DayKey(s.now()),
	}
	details := ReportDetails{Errors: outcome.Errors}

	if d := outcome.Diff; d != nil {
		report.NewCount = len(d.New)
		report.ChangedCount = len(d.Changed)
		report.RemovedCount = len(d.Removed)
		details.SitemapURL = d.SitemapURL
		details.New = capList(&details, urlStrings(d.New))
		details.Changed = capList(&details, urlStrings(d.Changed))
		details.Removed = capList(&details, urlStrings(d.Removed))
	}

	for _, r := range outcome.Liveness {
		switch {
		case r.Dead:
			report.DeadCount++
			details.Dead = append(details.Dead, r)
		case r.Redirect:
			details.Redirects = append(details.Redirects, r)
		}
	}
	details.Dead = capList(&details, details.Dead)
	details.Redirects = capList(&details, details.Redirects)

	if d := outcome.Dispatch; d != nil {
		report.GoogleSubmitted = len(d.Submitted)
		report.GoogleFailed = len(d.Failed)
		report.GoogleRateLimited = len(d.RateLimited)
		report.IndexNowSubmitted = d.IndexNowSubmitted
		report.IndexNowFailed = d.IndexNowFailed
		report.CreditsUsed = d.CreditsUsed

		failed := make([]URLReason, len(d.Failed))
		for i, f := range d.Failed {
			failed[i] = URLReason{URL: f.URL.URL, Reason: f.Reason}
		}
		details.Google = GoogleDetails{
			Submitted:    capList(&details, urlStrings(d.Submitted)),
			Failed:       capList(&details, failed),
			RateLimited:  capList(&details, urlStrings(d.RateLimited)),
			Deferred:     capList(&details, urlStrings(d.Deferred)),
			ChargeFailed: capList(&details, urlStrings(d.ChargeFailed)),
		}
		details.IndexNow = IndexNowDetails{
			Submitted: d.IndexNowSubmitted,
			Failed:    d.IndexNowFailed,
			Error:     d.IndexNowError,
		}
	}

	total, indexed, err := s.urls.CountBySite(ctx, site.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to count urls: %w", err)
	}
	report.TotalCount = total
	report.IndexedCount = indexed

	balance, err := s.ledger.Balance(ctx, site.UserID)
	if err != nil {
		return nil, false, err
	}
	report.CreditsRemaining = balance

	blob, err := json.Marshal(details)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal report details: %w", err)
	}
	report.Details = blob

	if err := s.reports.Upsert(ctx, report); err != nil {
		return nil, false, fmt.Errorf("failed to save report: %w", err)
	}

	if err := s.storage.PutReportDetails(ctx, site.ID, report.ReportDate, blob); err != nil {
		s.logger.Warn("failed to archive report details", "site_id", site.ID, "day", report.ReportDate, "error", err)
	}

	notify := ShouldNotify(report)
	s.logger.Info("daily report written",
		"site_id", site.ID,
		"day", report.ReportDate,
		"new", report.NewCount,
		"google_submitted", report.GoogleSubmitted,
		"indexnow_submitted", report.IndexNowSubmitted,
		"dead", report.DeadCount,
		"notify", notify,
	)
	return report, notify, nil
}

// Get returns the report for a site and day. When the stored details are
// empty the archived copy is used.
func (s *ReportService) Get(ctx context.Context, siteID, day string) (*models.DailyReport, error) {
	report, err := s.reports.Get(ctx, siteID, day)
	if err != nil || report == nil {
		return report, err
	}
	if len(report.Details) == 0 {
		archived, err := s.storage.GetReportDetails(ctx, siteID, day)
		if err != nil {
			s.logger.Warn("failed to read archived report details", "site_id", siteID, "day", day, "error", err)
		} else if archived != nil {
			report.Details = archived
		}
	}
	return report, nil
}

// List returns a site's most recent reports.
func (s *ReportService) List(ctx context.Context, siteID string, limit int) ([]*models.DailyReport, error) {
	return s.reports.ListBySite(ctx, siteID, limit)
}

func urlStrings(urls []*models.TrackedURL) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = u.URL
	}
	return out
}

func capList[T any](details *ReportDetails, list []T) []T {
	if len(list) > maxReportDetailItems {
		details.Truncated = true
		return list[:maxReportDetailItems]
	}
	return list
}
