package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/constants"
	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// DayKey returns the quota day for t: the UTC calendar date as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// QuotaLimit returns the fixed daily allowance for a bucket.
func QuotaLimit(bucket models.QuotaBucket) int {
	if bucket == models.QuotaInspections {
		return constants.InspectionDailyLimit
	}
	return constants.SubmissionDailyLimit
}

// Remaining returns max(0, limit - used).
func Remaining(limit, used int) int {
	return max(0, limit-used)
}

// QuotaService tracks per-user daily provider allowances.
type QuotaService struct {
	repo   repository.QuotaRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewQuotaService creates a quota service over the given counter store.
func NewQuotaService(repo repository.QuotaRepository, logger *slog.Logger) *QuotaService {
	return &QuotaService{
		repo:   repo,
		logger: logger.With("component", "quota"),
		now:    time.Now,
	}
}

// Today returns the current quota day.
func (s *QuotaService) Today() string {
	return DayKey(s.now())
}

// CurrentUsage returns today's counters; a user with no activity gets zeros.
func (s *QuotaService) CurrentUsage(ctx context.Context, userID string) (models.QuotaUsage, error) {
	return s.repo.Get(ctx, userID, s.Today())
}

// Remaining returns how many calls the user has left today in a bucket.
func (s *QuotaService) Remaining(ctx context.Context, userID string, bucket models.QuotaBucket) (int, error) {
	usage, err := s.CurrentUsage(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read quota: %w", err)
	}
	return Remaining(QuotaLimit(bucket), usage.Used(bucket)), nil
}

// Increment adds to today's counters without a ceiling check.
func (s *QuotaService) Increment(ctx context.Context, userID string, submissions, inspections int) (models.QuotaUsage, error) {
	return s.repo.Increment(ctx, userID, s.Today(), submissions, inspections)
}

// TryConsume reserves n calls in a bucket. It returns ErrQuotaExhausted,
// leaving the counter untouched, when the reservation would exceed the limit.
func (s *QuotaService) TryConsume(ctx context.Context, userID string, bucket models.QuotaBucket, n int) (models.QuotaUsage, error) {
	usage, err := s.repo.TryConsume(ctx, userID, s.Today(), bucket, n, QuotaLimit(bucket))
	if errors.Is(err, repository.ErrQuotaCeiling) {
		s.logger.Debug("quota ceiling reached", "user_id", userID, "bucket", bucket, "used", usage.Used(bucket))
		return usage, ErrQuotaExhausted
	}
	return usage, err
}

// BucketStatus is the usage summary for one bucket.
type BucketStatus struct {
	Used      int `json:"used" doc:"Calls made today"`
	Limit     int `json:"limit" doc:"Daily allowance"`
	Remaining int `json:"remaining" doc:"Calls left today"`
}

// QuotaStatus is a user's quota position for the current day.
type QuotaStatus struct {
	Day         string       `json:"day" doc:"UTC day the counters apply to"`
	Submissions BucketStatus `json:"submissions"`
	Inspections BucketStatus `json:"inspections"`
}

// Status returns used, limit and remaining for both buckets.
func (s *QuotaService) Status(ctx context.Context, userID string) (*QuotaStatus, error) {
	usage, err := s.CurrentUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	bucket := func(b models.QuotaBucket) BucketStatus {
		limit := QuotaLimit(b)
		return BucketStatus{Used: usage.Used(b), Limit: limit, Remaining: Remaining(limit, usage.Used(b))}
	}
	return &QuotaStatus{
		Day:         s.Today(),
		Submissions: bucket(models.QuotaSubmissions),
		Inspections: bucket(models.QuotaInspections),
	}, nil
}

// PurgeBefore deletes counters older than the retention window.
func (s *QuotaService) PurgeBefore(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := DayKey(s.now().AddDate(0, 0, -retentionDays))
	return s.repo.DeleteBefore(ctx, cutoff)
}
