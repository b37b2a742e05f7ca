package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/constants"
	"github.com/jmylchreest/autoindex-api/internal/metrics"
	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/provider"
	"github.com/jmylchreest/autoindex-api/internal/provider/google"
	"github.com/jmylchreest/autoindex-api/internal/provider/indexnow"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// Submission outcome labels for metrics.
const (
	outcomeSubmitted    = "submitted"
	outcomeFailed       = "failed"
	outcomeRateLimited  = "rate_limited"
	outcomeDeferred     = "deferred"
	outcomeChargeFailed = "charge_failed"
)

// TokenSource yields a user's Google access token.
type TokenSource interface {
	Token(ctx context.Context, userID string) (string, error)
}

// GooglePublisher sends Indexing API notifications.
type GooglePublisher interface {
	Publish(ctx context.Context, token, pageURL string, typ google.NotificationType) error
}

// IndexNowSubmitter posts URL lists to IndexNow.
type IndexNowSubmitter interface {
	Submit(ctx context.Context, host, key string, urls []string) indexnow.BatchResult
}

// KeyOpener decrypts a secret sealed for an owner.
type KeyOpener interface {
	Open(ciphertext, ownerID string) (string, error)
}

// URLFailure pairs a URL with the reason its submission failed.
type URLFailure struct {
	URL    *models.TrackedURL
	Reason string
}

// DispatchResult is the outcome of submitting one site's candidates.
type DispatchResult struct {
	Submitted    []*models.TrackedURL
	Failed       []URLFailure
	RateLimited  []*models.TrackedURL
	Deferred     []*models.TrackedURL
	ChargeFailed []*models.TrackedURL

	IndexNowSubmitted int
	IndexNowFailed    int
	IndexNowError     string

	CreditsUsed  int64
	Balance      int64
	LowCredit    bool
	OutOfCredits bool
	TokenFailed  bool
	TokenError   string
}

// submissionRun walks an ordered URL list. Once halted (rate limit, quota,
// credits) every URL not yet attempted lands in the halting bucket.
type submissionRun struct {
	queue  []*models.TrackedURL
	next   int
	halted bool

	submitted   []*models.TrackedURL
	failed      []URLFailure
	rateLimited []*models.TrackedURL
	deferred    []*models.TrackedURL
}

func newSubmissionRun(urls []*models.TrackedURL) *submissionRun {
	return &submissionRun{queue: urls}
}

// Next returns the next URL to attempt.
func (r *submissionRun) Next() (*models.TrackedURL, bool) {
	if r.halted || r.next >= len(r.queue) {
		return nil, false
	}
	u := r.queue[r.next]
	r.next++
	return u, true
}

func (r *submissionRun) Succeed(u *models.TrackedURL) {
	r.submitted = append(r.submitted, u)
}

func (r *submissionRun) Fail(u *models.TrackedURL, reason string) {
	r.failed = append(r.failed, URLFailure{URL: u, Reason: reason})
}

// RateLimit marks u and every later URL rate limited and halts the run.
func (r *submissionRun) RateLimit(u *models.TrackedURL) {
	r.rateLimited = append(r.rateLimited, u)
	r.rateLimited = append(r.rateLimited, r.rest()...)
	r.halted = true
}

// Defer marks u and every later URL deferred and halts the run.
func (r *submissionRun) Defer(u *models.TrackedURL) {
	r.deferred = append(r.deferred, u)
	r.deferred = append(r.deferred, r.rest()...)
	r.halted = true
}

func (r *submissionRun) rest() []*models.TrackedURL {
	rest := r.queue[r.next:]
	r.next = len(r.queue)
	return rest
}

// DispatchService submits URLs to the enabled indexing providers under the
// user's daily quota and credit balance.
type DispatchService struct {
	quota    *QuotaService
	ledger   *LedgerService
	urls     repository.TrackedURLRepository
	activity *activityRecorder

	google   GooglePublisher
	tokens   TokenSource
	indexNow IndexNowSubmitter
	keys     KeyOpener

	metrics *metrics.Metrics
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// DispatchDeps groups the collaborators of a DispatchService. Nil providers
// disable the corresponding engine.
type DispatchDeps struct {
	Quota    *QuotaService
	Ledger   *LedgerService
	URLs     repository.TrackedURLRepository
	Activity repository.ActivityLogRepository
	Google   GooglePublisher
	Tokens   TokenSource
	IndexNow IndexNowSubmitter
	Keys     KeyOpener
	Metrics  *metrics.Metrics
}

// NewDispatchService creates a new dispatch service.
func NewDispatchService(deps DispatchDeps, logger *slog.Logger) *DispatchService {
	logger = logger.With("component", "dispatch")
	return &DispatchService{
		quota:    deps.Quota,
		ledger:   deps.Ledger,
		urls:     deps.URLs,
		activity: newActivityRecorder(deps.Activity, logger),
		google:   deps.Google,
		tokens:   deps.Tokens,
		indexNow: deps.IndexNow,
		keys:     deps.Keys,
		metrics:  deps.Metrics,
		logger:   logger,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// orderForSubmission puts new URLs first, then changed ones, then the rest,
// keeping sitemap order within each group.
func orderForSubmission(urls []*models.TrackedURL) []*models.TrackedURL {
	rank := func(u *models.TrackedURL) int {
		switch {
		case u.IsNew:
			return 0
		case u.IsChanged:
			return 1
		default:
			return 2
		}
	}
	ordered := slices.Clone(urls)
	slices.SortStableFunc(ordered, func(a, b *models.TrackedURL) int {
		return cmp.Compare(rank(a), rank(b))
	})
	return ordered
}

// Dispatch submits candidates to every engine enabled on the site. The
// returned error reports an internal failure (storage, context); provider
// failures are recorded per URL in the result.
func (s *DispatchService) Dispatch(ctx context.Context, site *models.Site, candidates []*models.TrackedURL) (*DispatchResult, error) {
	ordered := orderForSubmission(candidates)
	res := &DispatchResult{}

	var runErr error
	if site.GoogleEnabled {
		if s.google == nil || s.tokens == nil {
			s.logger.Warn("google engine enabled but not configured", "site_id", site.ID)
		} else {
			runErr = s.dispatchGoogle(ctx, site, ordered, res)
		}
	}
	if site.IndexNowEnabled && ctx.Err() == nil {
		s.dispatchIndexNow(ctx, site, ordered, res)
	}

	s.metrics.Submission(google.ProviderName, outcomeSubmitted, len(res.Submitted))
	s.metrics.Submission(google.ProviderName, outcomeFailed, len(res.Failed))
	s.metrics.Submission(google.ProviderName, outcomeRateLimited, len(res.RateLimited))
	s.metrics.Submission(google.ProviderName, outcomeDeferred, len(res.Deferred))
	s.metrics.Submission(google.ProviderName, outcomeChargeFailed, len(res.ChargeFailed))
	s.metrics.Submission(indexnow.ProviderName, outcomeSubmitted, res.IndexNowSubmitted)
	s.metrics.Submission(indexnow.ProviderName, outcomeFailed, res.IndexNowFailed)
	s.metrics.Credits(res.CreditsUsed)

	s.logger.Info("dispatch complete",
		"site_id", site.ID,
		"candidates", len(candidates),
		"google_submitted", len(res.Submitted),
		"google_failed", len(res.Failed),
		"google_rate_limited", len(res.RateLimited),
		"google_deferred", len(res.Deferred),
		"indexnow_submitted", res.IndexNowSubmitted,
		"indexnow_failed", res.IndexNowFailed,
		"credits_used", res.CreditsUsed,
	)
	return res, runErr
}

func (s *DispatchService) dispatchGoogle(ctx context.Context, site *models.Site, urls []*models.TrackedURL, res *DispatchResult) error {
	remaining, err := s.quota.Remaining(ctx, site.UserID, models.QuotaSubmissions)
	if err != nil {
		return err
	}
	if len(urls) > remaining {
		res.Deferred = append(res.Deferred, urls[remaining:]...)
		urls = urls[:remaining]
	}

	run := newSubmissionRun(urls)
	var (
		token        string
		tokenErr     error
		tokenFetched bool
		runErr       error
	)

	for u, ok := run.Next(); ok; u, ok = run.Next() {
		if err := ctx.Err(); err != nil {
			run.Defer(u)
			runErr = err
			break
		}

		if !tokenFetched {
			token, tokenErr = s.tokens.Token(ctx, site.UserID)
			tokenFetched = true
			if tokenErr != nil {
				res.TokenFailed = true
				res.TokenError = tokenErr.Error()
				s.logger.Warn("google token unavailable, failing remaining urls",
					"site_id", site.ID,
					"user_id", site.UserID,
					"error", tokenErr,
				)
			}
		}
		if tokenErr != nil {
			run.Fail(u, "token unavailable: "+tokenErr.Error())
			continue
		}

		balance, err := s.ledger.Balance(ctx, site.UserID)
		if err != nil {
			run.Defer(u)
			runErr = err
			break
		}
		if balance < constants.CreditsPerSubmission {
			res.OutOfCredits = true
			res.Balance = balance
			run.Defer(u)
			break
		}

		if _, err := s.quota.TryConsume(ctx, site.UserID, models.QuotaSubmissions, 1); err != nil {
			if !errors.Is(err, ErrQuotaExhausted) {
				runErr = err
			}
			run.Defer(u)
			break
		}

		err = s.publishWithRetry(ctx, token, u.URL)
		switch {
		case err == nil:
			run.Succeed(u)
			s.markSubmitted(ctx, site, u, models.SubmissionMethodGoogle)
			s.activity.record(ctx, site.UserID, site.ID, &u.ID, models.ActionSubmittedGoogle, u.URL)
			s.charge(ctx, site, u, res)
		case errors.Is(err, provider.ErrRateLimited):
			run.RateLimit(u)
		default:
			run.Fail(u, err.Error())
		}
	}

	res.Submitted = append(res.Submitted, run.submitted...)
	res.Failed = append(res.Failed, run.failed...)
	res.RateLimited = append(res.RateLimited, run.rateLimited...)
	res.Deferred = append(res.Deferred, run.deferred...)

	for _, f := range run.failed {
		action := models.ActionSubmitFailed
		if tokenErr != nil {
			action = models.ActionTokenError
		}
		s.markFailed(ctx, f.URL, f.Reason)
		s.activity.record(ctx, site.UserID, site.ID, &f.URL.ID, action, f.Reason)
	}
	if len(run.rateLimited) > 0 {
		trigger := run.rateLimited[0]
		s.activity.record(ctx, site.UserID, site.ID, &trigger.ID, models.ActionRateLimited,
			fmt.Sprintf("google rate limited; %d urls left pending", len(run.rateLimited)))
	}
	if len(res.Deferred) > 0 {
		s.logger.Info("google submissions deferred",
			"site_id", site.ID,
			"deferred", len(res.Deferred),
			"quota_remaining", remaining,
			"out_of_credits", res.OutOfCredits,
		)
	}
	return runErr
}

// publishWithRetry retries server and network errors with a linear backoff.
// Rate limits and other client errors return immediately.
func (s *DispatchService) publishWithRetry(ctx context.Context, token, pageURL string) error {
	var err error
	for attempt := 1; attempt <= constants.MaxSubmitAttempts; attempt++ {
		err = s.google.Publish(ctx, token, pageURL, google.NotificationUpdated)
		if err == nil || !provider.IsRetryable(err) || attempt == constants.MaxSubmitAttempts {
			return err
		}

		delay := constants.CalculateSubmitBackoff(attempt)
		s.logger.Debug("retrying google submission",
			"url", pageURL,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if serr := s.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

// charge deducts the submission credit. A failed charge never undoes the
// submission; it is reported so the owner can be alerted.
func (s *DispatchService) charge(ctx context.Context, site *models.Site, u *models.TrackedURL, res *DispatchResult) {
	deduct, err := s.ledger.Deduct(ctx, site.UserID, constants.CreditsPerSubmission, "Google submission: "+u.URL)
	if err != nil {
		res.ChargeFailed = append(res.ChargeFailed, u)
		s.logger.Warn("failed to charge for submission",
			"site_id", site.ID,
			"user_id", site.UserID,
			"url", u.URL,
			"error", err,
		)
		s.activity.record(ctx, site.UserID, site.ID, &u.ID, models.ActionChargeFailed, err.Error())
		return
	}
	res.CreditsUsed += constants.CreditsPerSubmission
	res.Balance = deduct.Balance
	if deduct.CrossedLowThreshold {
		res.LowCredit = true
	}
}

func (s *DispatchService) dispatchIndexNow(ctx context.Context, site *models.Site, urls []*models.TrackedURL, res *DispatchResult) {
	if len(urls) == 0 {
		return
	}

	key, err := s.indexNowKey(site)
	if err != nil {
		res.IndexNowFailed = len(urls)
		res.IndexNowError = err.Error()
		s.logger.Warn("indexnow skipped", "site_id", site.ID, "error", err)
		s.activity.record(ctx, site.UserID, site.ID, nil, models.ActionSubmitFailed, "indexnow: "+err.Error())
		return
	}

	list := make([]string, len(urls))
	for i, u := range urls {
		list[i] = u.URL
	}

	batch := s.indexNow.Submit(ctx, site.Host(), key, list)
	res.IndexNowSubmitted = batch.Submitted
	res.IndexNowFailed = len(urls) - batch.Submitted
	if batch.Err != nil {
		res.IndexNowError = batch.Err.Error()
		s.logger.Warn("indexnow submission stopped",
			"site_id", site.ID,
			"submitted", batch.Submitted,
			"requests", batch.Requests,
			"error", batch.Err,
		)
		s.activity.record(ctx, site.UserID, site.ID, nil, models.ActionSubmitFailed,
			fmt.Sprintf("indexnow stopped after %d urls: %v", batch.Submitted, batch.Err))
	}
	if batch.Submitted > 0 {
		s.activity.record(ctx, site.UserID, site.ID, nil, models.ActionSubmittedIndexNow,
			fmt.Sprintf("%d urls submitted", batch.Submitted))
	}

	// With Google enabled the Google outcome owns each row's status.
	if site.GoogleEnabled {
		return
	}
	for i, u := range urls {
		switch {
		case i < batch.Submitted:
			s.markSubmitted(ctx, site, u, models.SubmissionMethodIndexNow)
		case errors.Is(batch.Err, provider.ErrRateLimited):
			// Left pending for the next run.
		default:
			s.markFailed(ctx, u, res.IndexNowError)
		}
	}
}

func (s *DispatchService) indexNowKey(site *models.Site) (string, error) {
	if s.indexNow == nil {
		return "", fmt.Errorf("%w: indexnow client not configured", ErrEngineUnavailable)
	}
	if site.IndexNowKeyEnc == "" || s.keys == nil {
		return "", fmt.Errorf("%w: no indexnow key for site", ErrEngineUnavailable)
	}
	key, err := s.keys.Open(site.IndexNowKeyEnc, site.ID)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt indexnow key: %w", err)
	}
	return key, nil
}

func (s *DispatchService) markSubmitted(ctx context.Context, site *models.Site, u *models.TrackedURL, method models.SubmissionMethod) {
	now := s.now().UTC()
	u.IndexStatus = models.IndexStatusSubmitted
	u.SubmissionMethod = method
	u.SubmittedAt = &now
	u.ErrorMessage = nil
	if err := s.urls.UpdateSubmission(ctx, u); err != nil {
		s.logger.Error("failed to record submission", "site_id", site.ID, "url", u.URL, "error", err)
	}
}

func (s *DispatchService) markFailed(ctx context.Context, u *models.TrackedURL, reason string) {
	u.IndexStatus = models.IndexStatusFailed
	u.ErrorMessage = &reason
	u.RetryCount++
	if err := s.urls.UpdateSubmission(ctx, u); err != nil {
		s.logger.Error("failed to record submission failure", "url", u.URL, "error", err)
	}
}
