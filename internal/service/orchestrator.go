package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/constants"
	"github.com/jmylchreest/autoindex-api/internal/coordination"
	"github.com/jmylchreest/autoindex-api/internal/logging"
	"github.com/jmylchreest/autoindex-api/internal/metrics"
	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/provider"
	"github.com/jmylchreest/autoindex-api/internal/provider/google"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// Per-site outcomes for metrics.
const (
	siteOK      = "ok"
	siteFailed  = "failed"
	siteSkipped = "skipped"
)

// CoverageInspector reads a URL's index coverage from Search Console.
type CoverageInspector interface {
	Inspect(ctx context.Context, token, siteURL, pageURL string) (*google.InspectionResult, error)
}

// SiteError records one site's failure within a job.
type SiteError struct {
	SiteID string `json:"site_id"`
	Error  string `json:"error"`
}

// JobSummary is the outcome of one orchestrator job.
type JobSummary struct {
	Job               string           `json:"job"`
	StartedAt         time.Time        `json:"started_at"`
	DurationMS        int64            `json:"duration_ms"`
	Result            models.JobResult `json:"result"`
	Sites             int              `json:"sites"`
	Succeeded         int              `json:"succeeded"`
	Failed            int              `json:"failed"`
	Skipped           int              `json:"skipped"`
	NewPages          int              `json:"new_pages"`
	DeadPages         int              `json:"dead_pages"`
	GoogleSubmitted   int              `json:"google_submitted"`
	IndexNowSubmitted int              `json:"indexnow_submitted"`
	SubmissionFailed  int              `json:"submission_failed"`
	RateLimited       int              `json:"rate_limited"`
	Retried           int              `json:"retried,omitempty"`
	Inspected         int              `json:"inspected,omitempty"`
	Errors            []SiteError      `json:"errors,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// OrchestratorDeps groups the collaborators of an Orchestrator.
type OrchestratorDeps struct {
	Sites     repository.SiteRepository
	URLs      repository.TrackedURLRepository
	JobRuns   repository.JobRunRepository
	Activity  repository.ActivityLogRepository
	Sitemap   *SitemapService
	Liveness  *LivenessService
	Dispatch  *DispatchService
	Reports   *ReportService
	Alerts    *AlertService
	Quota     *QuotaService
	Inspector CoverageInspector
	Tokens    TokenSource
	// JobLocker guards whole jobs and single sites across replicas; nil
	// uses a local lock.
	JobLocker              coordination.Locker
	DeadPageAlertThreshold int
	Metrics                *metrics.Metrics
}

// Orchestrator runs the indexing pipeline for every enabled site on a
// schedule, and for single sites on demand.
type Orchestrator struct {
	sites     repository.SiteRepository
	urls      repository.TrackedURLRepository
	jobRuns   repository.JobRunRepository
	activity  *activityRecorder
	sitemap   *SitemapService
	liveness  *LivenessService
	dispatch  *DispatchService
	reports   *ReportService
	alerts    *AlertService
	quota     *QuotaService
	inspector CoverageInspector
	tokens    TokenSource

	jobLocks  coordination.Locker
	siteLocks coordination.Locker

	deadThreshold int
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(deps OrchestratorDeps, logger *slog.Logger) *Orchestrator {
	logger = logger.With("component", "orchestrator")
	locks := deps.JobLocker
	if locks == nil {
		locks = coordination.NewLocalLocker()
	}
	threshold := deps.DeadPageAlertThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &Orchestrator{
		sites:         deps.Sites,
		urls:          deps.URLs,
		jobRuns:       deps.JobRuns,
		activity:      newActivityRecorder(deps.Activity, logger),
		sitemap:       deps.Sitemap,
		liveness:      deps.Liveness,
		dispatch:      deps.Dispatch,
		reports:       deps.Reports,
		alerts:        deps.Alerts,
		quota:         deps.Quota,
		inspector:     deps.Inspector,
		tokens:        deps.Tokens,
		jobLocks:      locks,
		siteLocks:     locks,
		deadThreshold: threshold,
		metrics:       deps.Metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// runState is shared by the sites of one job run.
type runState struct {
	summary      *JobSummary
	tokenAlerted map[string]bool
}

// RunDaily diffs, probes, submits and reports every auto-index site.
func (o *Orchestrator) RunDaily(ctx context.Context) (*JobSummary, error) {
	return o.runJob(ctx, models.JobDailyIndex, func(ctx context.Context, st *runState) error {
		sites, err := o.sites.ListAutoIndexEnabled(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sites: %w", err)
		}
		o.forEachSite(ctx, st, sites, func(ctx context.Context, site *models.Site) error {
			_, err := o.processSite(ctx, site, st)
			return err
		})
		return nil
	})
}

// RunSite runs the full pipeline for one site outside the schedule.
func (o *Orchestrator) RunSite(ctx context.Context, siteID string) (*models.DailyReport, error) {
	site, err := o.sites.GetByID(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load site: %w", err)
	}
	if site == nil {
		return nil, ErrSiteNotFound
	}

	st := &runState{summary: &JobSummary{}, tokenAlerted: map[string]bool{}}
	var report *models.DailyReport
	err = o.withSite(ctx, site, func(ctx context.Context) error {
		var err error
		report, err = o.processSite(ctx, site, st)
		return err
	})
	return report, err
}

// RetryFailed re-submits failed URLs that have retries left, after a fresh
// liveness check.
func (o *Orchestrator) RetryFailed(ctx context.Context) (*JobSummary, error) {
	return o.runJob(ctx, models.JobRetryFailed, func(ctx context.Context, st *runState) error {
		sites, err := o.sites.ListAutoIndexEnabled(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sites: %w", err)
		}
		o.forEachSite(ctx, st, sites, func(ctx context.Context, site *models.Site) error {
			failed, err := o.urls.ListFailedForRetry(ctx, site.ID, constants.MaxFailedRetries)
			if err != nil {
				return err
			}
			if len(failed) == 0 {
				return nil
			}
			st.summary.Retried += len(failed)

			eligible, live := o.probe(ctx, site, failed)
			st.summary.DeadPages += len(DeadURLs(live))
			result, err := o.dispatch.Dispatch(ctx, site, eligible)
			if result != nil {
				o.accumulate(st.summary, result)
				o.dispatchAlerts(ctx, site, result, st)
			}
			return err
		})
		return nil
	})
}

// ResyncCoverage refreshes Search Console coverage for Google-enabled sites,
// least recently synced URLs first, within each owner's inspection quota.
func (o *Orchestrator) ResyncCoverage(ctx context.Context) (*JobSummary, error) {
	return o.runJob(ctx, models.JobCoverageResync, func(ctx context.Context, st *runState) error {
		if o.inspector == nil || o.tokens == nil {
			return fmt.Errorf("%w: url inspection not configured", ErrEngineUnavailable)
		}
		sites, err := o.sites.ListGoogleEnabled(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sites: %w", err)
		}
		o.forEachSite(ctx, st, sites, func(ctx context.Context, site *models.Site) error {
			n, err := o.resyncSite(ctx, site, st)
			st.summary.Inspected += n
			return err
		})
		return nil
	})
}

// JobRuns returns the last-run record of every scheduled job.
func (o *Orchestrator) JobRuns(ctx context.Context) ([]*models.JobRun, error) {
	return o.jobRuns.List(ctx)
}

func (o *Orchestrator) runJob(ctx context.Context, name string, fn func(context.Context, *runState) error) (*JobSummary, error) {
	release, ok, err := o.jobLocks.TryAcquire(ctx, "job:"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire job lock: %w", err)
	}
	if !ok {
		o.logger.Info("job already running elsewhere, skipping", "job", name)
		return nil, ErrJobRunning
	}
	defer release()

	started := o.now()
	st := &runState{
		summary:      &JobSummary{Job: name, StartedAt: started.UTC()},
		tokenAlerted: map[string]bool{},
	}
	o.logger.Info("job started", "job", name)

	runErr := fn(ctx, st)

	summary := st.summary
	duration := o.now().Sub(started)
	summary.DurationMS = duration.Milliseconds()
	switch {
	case runErr != nil:
		summary.Result = models.JobResultFailure
		summary.Error = runErr.Error()
	case summary.Failed > 0:
		summary.Result = models.JobResultPartial
	default:
		summary.Result = models.JobResultSuccess
	}

	o.recordJobRun(ctx, summary)
	o.metrics.JobRun(name, string(summary.Result), duration)

	if runErr != nil {
		o.logger.Error("job failed", "job", name, "error", runErr)
		if err := o.alerts.NotifyAdmin(ctx, AlertJobFailed, summary); err != nil {
			o.logger.Warn("failed to send job failure alert", "job", name, "error", err)
		}
		return summary, runErr
	}

	o.logger.Info("job finished",
		"job", name,
		"result", summary.Result,
		"sites", summary.Sites,
		"failed", summary.Failed,
		"duration", duration,
	)
	return summary, nil
}

func (o *Orchestrator) recordJobRun(ctx context.Context, summary *JobSummary) {
	blob, err := json.Marshal(summary)
	if err != nil {
		o.logger.Warn("failed to marshal job summary", "job", summary.Job, "error", err)
	}
	run := &models.JobRun{
		JobName:     summary.Job,
		LastRunAt:   summary.StartedAt,
		LastResult:  summary.Result,
		LastSummary: string(blob),
		DurationMS:  summary.DurationMS,
	}
	if err := o.jobRuns.Upsert(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Error("failed to record job run", "job", summary.Job, "error", err)
	}
}

// forEachSite processes sites one at a time. A failure or panic in one site
// is recorded and the loop moves on.
func (o *Orchestrator) forEachSite(ctx context.Context, st *runState, sites []*models.Site, fn func(context.Context, *models.Site) error) {
	for _, site := range sites {
		if ctx.Err() != nil {
			o.logger.Warn("job cancelled", "job", st.summary.Job, "remaining_sites", len(sites)-st.summary.Sites)
			return
		}
		st.summary.Sites++

		err := o.withSite(ctx, site, func(ctx context.Context) error { return fn(ctx, site) })
		switch {
		case errors.Is(err, ErrSiteBusy):
			st.summary.Skipped++
			o.metrics.SiteProcessed(siteSkipped)
		case err != nil:
			st.summary.Failed++
			st.summary.Errors = append(st.summary.Errors, SiteError{SiteID: site.ID, Error: err.Error()})
			o.metrics.SiteProcessed(siteFailed)
			o.logger.Error("site processing failed", "job", st.summary.Job, "site_id", site.ID, "error", err)
		default:
			st.summary.Succeeded++
			o.metrics.SiteProcessed(siteOK)
		}
	}
}

// withSite holds the per-site lock around fn and turns a panic into an error.
func (o *Orchestrator) withSite(ctx context.Context, site *models.Site, fn func(context.Context) error) (err error) {
	release, ok, err := o.siteLocks.TryAcquire(ctx, "site:"+site.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSiteBusy
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic while processing site",
				"site_id", site.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx = logging.WithUserID(logging.WithSiteID(ctx, site.ID), site.UserID)
	return fn(ctx)
}

// processSite is the per-site pipeline shared by the daily job and manual runs.
func (o *Orchestrator) processSite(ctx context.Context, site *models.Site, st *runState) (*models.DailyReport, error) {
	log := logging.FromContext(ctx, o.logger)
	outcome := &RunOutcome{}

	diff, err := o.sitemap.Diff(ctx, site)
	if err != nil {
		return nil, err
	}
	outcome.Diff = diff

	candidates, err := o.urls.List(ctx, site.ID, repository.URLFilter{Status: models.IndexStatusPending})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending urls: %w", err)
	}

	eligible, live := o.probe(ctx, site, candidates)
	outcome.Liveness = live
	st.summary.NewPages += len(diff.New)
	st.summary.DeadPages += len(DeadURLs(live))

	var dispatchErr error
	if len(eligible) > 0 {
		result, err := o.dispatch.Dispatch(ctx, site, eligible)
		outcome.Dispatch = result
		if err != nil {
			dispatchErr = err
			outcome.Errors = append(outcome.Errors, err.Error())
		}
		if result != nil {
			o.accumulate(st.summary, result)
		}
	}

	report, notify, err := o.reports.Build(ctx, site, outcome)
	if err != nil {
		return nil, err
	}

	if err := o.sites.MarkSynced(ctx, site.ID, o.now().UTC()); err != nil {
		log.Warn("failed to mark site synced", "error", err)
	}
	o.activity.record(ctx, site.UserID, site.ID, nil, models.ActionSiteSynced,
		fmt.Sprintf("new=%d changed=%d removed=%d submitted=%d indexnow=%d dead=%d",
			report.NewCount, report.ChangedCount, report.RemovedCount,
			report.GoogleSubmitted, report.IndexNowSubmitted, report.DeadCount))

	if notify {
		o.alert(ctx, site, AlertDailyReport, report)
	}
	if report.DeadCount >= o.deadThreshold {
		o.alert(ctx, site, AlertDeadPages, map[string]any{
			"count": report.DeadCount,
			"urls":  capList(&ReportDetails{}, urlsOf(DeadURLs(live))),
		})
	}
	if outcome.Dispatch != nil {
		o.dispatchAlerts(ctx, site, outcome.Dispatch, st)
	}

	return report, dispatchErr
}

// probe checks candidates for liveness, records each probe on its row and
// returns the URLs worth submitting. Dead and unreachable URLs are dropped;
// redirects are kept and submitted under their original address.
//
// The returned results omit rows that were already dead before this probe
// and still are, so a page that stays gone is reported once.
func (o *Orchestrator) probe(ctx context.Context, site *models.Site, candidates []*models.TrackedURL) ([]*models.TrackedURL, []LivenessResult) {
	if len(candidates) == 0 {
		return nil, nil
	}
	results := o.liveness.Check(ctx, urlStrings(candidates))

	eligible := make([]*models.TrackedURL, 0, len(candidates))
	reported := make([]LivenessResult, 0, len(results))
	for i, r := range results {
		u := candidates[i]
		stillDead := r.Dead && wasDead(u)
		if !stillDead {
			reported = append(reported, r)
		}

		var status *int
		if r.StatusCode != 0 {
			code := r.StatusCode
			status = &code
		}
		var errMsg *string
		if r.Error != "" {
			msg := r.Error
			errMsg = &msg
		}
		if err := o.urls.UpdateProbe(ctx, u.ID, status, errMsg); err != nil {
			o.logger.Warn("failed to record probe", "site_id", site.ID, "url", u.URL, "error", err)
		}

		switch {
		case stillDead:
			o.logger.Debug("url still dead", "site_id", site.ID, "url", u.URL, "status", r.StatusCode)
		case r.Dead:
			o.activity.record(ctx, site.UserID, site.ID, &u.ID, models.ActionDead, fmt.Sprintf("%s returned %d", u.URL, r.StatusCode))
		case r.Redirect:
			o.activity.record(ctx, site.UserID, site.ID, &u.ID, models.ActionRedirect, fmt.Sprintf("%s -> %s", u.URL, r.Location))
			eligible = append(eligible, u)
		case r.Alive:
			eligible = append(eligible, u)
		default:
			o.logger.Debug("url unreachable, leaving pending", "site_id", site.ID, "url", u.URL, "error", r.Error)
		}
	}
	return eligible, reported
}

// wasDead reports whether the row's previous probe found the page gone and
// the sitemap has not touched it since.
func wasDead(u *models.TrackedURL) bool {
	if u.IsNew || u.IsChanged || u.HTTPStatus == nil {
		return false
	}
	return *u.HTTPStatus == http.StatusNotFound || *u.HTTPStatus == http.StatusGone
}

func (o *Orchestrator) accumulate(summary *JobSummary, result *DispatchResult) {
	summary.GoogleSubmitted += len(result.Submitted)
	summary.IndexNowSubmitted += result.IndexNowSubmitted
	summary.SubmissionFailed += len(result.Failed) + result.IndexNowFailed
	summary.RateLimited += len(result.RateLimited)
}

func (o *Orchestrator) dispatchAlerts(ctx context.Context, site *models.Site, result *DispatchResult, st *runState) {
	if result.LowCredit {
		o.alert(ctx, site, AlertLowCredit, map[string]any{"balance": result.Balance})
	}
	if result.TokenFailed && !st.tokenAlerted[site.UserID] {
		st.tokenAlerted[site.UserID] = true
		o.alert(ctx, site, AlertTokenExpired, map[string]any{"error": result.TokenError})
	}
	if len(result.ChargeFailed) > 0 {
		o.alert(ctx, site, AlertCouldNotCharge, map[string]any{
			"count": len(result.ChargeFailed),
			"urls":  urlStrings(result.ChargeFailed),
		})
	}
}

func (o *Orchestrator) alert(ctx context.Context, site *models.Site, event AlertEvent, payload any) {
	if err := o.alerts.Notify(ctx, site.UserID, event, site.Domain, payload); err != nil {
		o.logger.Warn("failed to send alert", "event", event, "site_id", site.ID, "error", err)
	}
}

// resyncSite inspects as many of the site's URLs as the owner's inspection
// quota allows and records their coverage state.
func (o *Orchestrator) resyncSite(ctx context.Context, site *models.Site, st *runState) (int, error) {
	remaining, err := o.quota.Remaining(ctx, site.UserID, models.QuotaInspections)
	if err != nil {
		return 0, err
	}
	if remaining == 0 {
		return 0, nil
	}

	urls, err := o.urls.ListForInspection(ctx, site.ID, remaining)
	if err != nil {
		return 0, err
	}
	if len(urls) == 0 {
		return 0, nil
	}

	token, err := o.tokens.Token(ctx, site.UserID)
	if err != nil {
		if !st.tokenAlerted[site.UserID] {
			st.tokenAlerted[site.UserID] = true
			o.alert(ctx, site, AlertTokenExpired, map[string]any{"error": err.Error()})
		}
		return 0, err
	}

	inspected := 0
	for _, u := range urls {
		if ctx.Err() != nil {
			return inspected, ctx.Err()
		}
		if _, err := o.quota.TryConsume(ctx, site.UserID, models.QuotaInspections, 1); err != nil {
			if errors.Is(err, ErrQuotaExhausted) {
				break
			}
			return inspected, err
		}

		result, err := o.inspector.Inspect(ctx, token, site.Domain, u.URL)
		if err != nil {
			if errors.Is(err, provider.ErrRateLimited) {
				o.logger.Warn("inspection rate limited, stopping site", "site_id", site.ID, "inspected", inspected)
				break
			}
			o.logger.Warn("inspection failed", "site_id", site.ID, "url", u.URL, "error", err)
			continue
		}

		if err := o.urls.UpdateCoverage(ctx, u.ID, result.CoverageState, o.now().UTC()); err != nil {
			return inspected, fmt.Errorf("failed to record coverage: %w", err)
		}
		inspected++
	}

	if inspected > 0 {
		o.activity.record(ctx, site.UserID, site.ID, nil, models.ActionInspected, fmt.Sprintf("%d urls inspected", inspected))
	}
	return inspected, nil
}

func urlsOf(results []LivenessResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.URL
	}
	return out
}
