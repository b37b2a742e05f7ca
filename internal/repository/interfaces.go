// Package repository defines repository interfaces for data access.
// Note: User management and OAuth tokens are handled by Clerk; user_id columns
// hold Clerk user IDs and carry no foreign key.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

var (
	// ErrLedgerInsufficient is returned when a debit would take the balance below zero.
	ErrLedgerInsufficient = errors.New("ledger: insufficient balance")

	// ErrLedgerDuplicateOrder is returned when an external order id was already recorded.
	ErrLedgerDuplicateOrder = errors.New("ledger: duplicate external order id")

	// ErrQuotaCeiling is returned when an increment would exceed the daily limit.
	ErrQuotaCeiling = errors.New("quota: ceiling reached")
)

// SiteRepository defines methods for site data access.
type SiteRepository interface {
	// Upsert inserts a site or updates the existing row for (user_id, domain).
	// On return site.ID holds the stored row's id.
	Upsert(ctx context.Context, site *models.Site) error
	GetByID(ctx context.Context, id string) (*models.Site, error)
	GetByUserID(ctx context.Context, userID string) ([]*models.Site, error)
	// ListAutoIndexEnabled returns every site with at least one engine enabled,
	// ordered by creation time.
	ListAutoIndexEnabled(ctx context.Context) ([]*models.Site, error)
	// ListGoogleEnabled returns sites with the Indexing API engine enabled.
	ListGoogleEnabled(ctx context.Context) ([]*models.Site, error)
	UpdateSettings(ctx context.Context, site *models.Site) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// URLFilter narrows a tracked URL listing.
type URLFilter struct {
	Status         models.IndexStatus // Empty matches all
	IncludeRemoved bool
	Limit          int
	Offset         int
}

// DiffBatch is the set of writes produced by one sitemap diff.
type DiffBatch struct {
	Upserts     []*models.TrackedURL // New and changed URLs
	RemovedIDs  []string
	RestoredIDs []string // Previously removed rows back in the sitemap, unchanged
}

// TrackedURLRepository defines methods for tracked URL data access.
type TrackedURLRepository interface {
	GetByID(ctx context.Context, id string) (*models.TrackedURL, error)
	// GetBySiteID returns every row for the site, including removed ones.
	GetBySiteID(ctx context.Context, siteID string) ([]*models.TrackedURL, error)
	List(ctx context.Context, siteID string, filter URLFilter) ([]*models.TrackedURL, error)
	// ApplyDiff clears previous new/changed flags, upserts the batch and
	// flags removed rows in one transaction.
	ApplyDiff(ctx context.Context, siteID string, batch DiffBatch, now time.Time) error
	UpdateProbe(ctx context.Context, id string, httpStatus *int, errMsg *string) error
	UpdateSubmission(ctx context.Context, u *models.TrackedURL) error
	UpdateCoverage(ctx context.Context, id, coverageState string, syncedAt time.Time) error
	// ListFailedForRetry returns failed, non-removed URLs with retry_count below maxRetries.
	ListFailedForRetry(ctx context.Context, siteID string, maxRetries int) ([]*models.TrackedURL, error)
	// ListForInspection returns non-removed URLs, least recently synced first.
	ListForInspection(ctx context.Context, siteID string, limit int) ([]*models.TrackedURL, error)
	// CountBySite returns the non-removed total and the indexed subset.
	CountBySite(ctx context.Context, siteID string) (total, indexed int, err error)
}

// ActivityLogRepository defines methods for the append-only activity log.
type ActivityLogRepository interface {
	Create(ctx context.Context, entry *models.ActivityLogEntry) error
	ListBySite(ctx context.Context, siteID string, limit int) ([]*models.ActivityLogEntry, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.ActivityLogEntry, error)
}

// QuotaRepository defines methods for daily quota counters.
type QuotaRepository interface {
	Get(ctx context.Context, userID, day string) (models.QuotaUsage, error)
	Increment(ctx context.Context, userID, day string, submissions, inspections int) (models.QuotaUsage, error)
	// TryConsume adds n to the bucket only if the result stays within limit.
	// Returns ErrQuotaCeiling when it would not.
	TryConsume(ctx context.Context, userID, day string, bucket models.QuotaBucket, n, limit int) (models.QuotaUsage, error)
	// DeleteBefore removes rows for days strictly before the given day.
	DeleteBefore(ctx context.Context, day string) (int64, error)
}

// LedgerEntry is a requested ledger mutation.
type LedgerEntry struct {
	UserID          string
	Type            models.CreditTransactionType
	Amount          int64 // Signed
	Description     string
	ExternalOrderID *string
}

// CreditLedgerRepository defines methods for the credit ledger.
type CreditLedgerRepository interface {
	// Balance returns SUM(amount) for the user.
	Balance(ctx context.Context, userID string) (int64, error)
	// Append writes one transaction if the resulting balance is non-negative
	// and the external order id is unused. The balance check and the insert
	// are a single statement.
	Append(ctx context.Context, entry LedgerEntry) (*models.CreditTransaction, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.CreditTransaction, error)
	GetByExternalOrderID(ctx context.Context, orderID string) (*models.CreditTransaction, error)
	// UsageSince returns the credits spent by the user since the given time.
	UsageSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// DailyReportRepository defines methods for per-site daily reports.
type DailyReportRepository interface {
	// Upsert writes the report for (site_id, report_date), replacing any
	// previous one for that key. On return report.ID holds the stored id.
	Upsert(ctx context.Context, report *models.DailyReport) error
	Get(ctx context.Context, siteID, day string) (*models.DailyReport, error)
	ListBySite(ctx context.Context, siteID string, limit int) ([]*models.DailyReport, error)
}

// JobRunRepository defines methods for scheduled job run records.
type JobRunRepository interface {
	Upsert(ctx context.Context, run *models.JobRun) error
	Get(ctx context.Context, jobName string) (*models.JobRun, error)
	List(ctx context.Context) ([]*models.JobRun, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Site        SiteRepository
	TrackedURL  TrackedURLRepository
	ActivityLog ActivityLogRepository
	Quota       QuotaRepository
	Ledger      CreditLedgerRepository
	Report      DailyReportRepository
	JobRun      JobRunRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Site:        NewSQLiteSiteRepository(db),
		TrackedURL:  NewSQLiteTrackedURLRepository(db),
		ActivityLog: NewSQLiteActivityLogRepository(db),
		Quota:       NewSQLiteQuotaRepository(db),
		Ledger:      NewSQLiteCreditLedgerRepository(db),
		Report:      NewSQLiteDailyReportRepository(db),
		JobRun:      NewSQLiteJobRunRepository(db),
	}
}
