package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// SQLiteDailyReportRepository implements DailyReportRepository for SQLite.
type SQLiteDailyReportRepository struct {
	db *sql.DB
}

// NewSQLiteDailyReportRepository creates a new SQLite daily report repository.
func NewSQLiteDailyReportRepository(db *sql.DB) *SQLiteDailyReportRepository {
	return &SQLiteDailyReportRepository{db: db}
}

const reportColumns = `id, site_id, report_date, new_count, changed_count, removed_count,
	google_submitted, google_failed, google_rate_limited, indexnow_submitted, indexnow_failed,
	dead_count, indexed_count, total_count, credits_used, credits_remaining, details,
	created_at, updated_at`

func (r *SQLiteDailyReportRepository) Upsert(ctx context.Context, report *models.DailyReport) error {
	now := time.Now().UTC()
	if report.ID == "" {
		report.ID = ulid.Make().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = now

	var details *string
	if len(report.Details) > 0 {
		s := string(report.Details)
		details = &s
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO daily_reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id, report_date) DO UPDATE SET
			new_count = excluded.new_count,
			changed_count = excluded.changed_count,
			removed_count = excluded.removed_count,
			google_submitted = excluded.google_submitted,
			google_failed = excluded.google_failed,
			google_rate_limited = excluded.google_rate_limited,
			indexnow_submitted = excluded.indexnow_submitted,
			indexnow_failed = excluded.indexnow_failed,
			dead_count = excluded.dead_count,
			indexed_count = excluded.indexed_count,
			total_count = excluded.total_count,
			credits_used = excluded.credits_used,
			credits_remaining = excluded.credits_remaining,
			details = excluded.details,
			updated_at = excluded.updated_at`,
		report.ID, report.SiteID, report.ReportDate, report.NewCount, report.ChangedCount, report.RemovedCount,
		report.GoogleSubmitted, report.GoogleFailed, report.GoogleRateLimited,
		report.IndexNowSubmitted, report.IndexNowFailed, report.DeadCount,
		report.IndexedCount, report.TotalCount, report.CreditsUsed, report.CreditsRemaining,
		details, formatTime(report.CreatedAt), formatTime(report.UpdatedAt),
	)
	if err != nil {
		return err
	}

	var createdAt string
	if err := r.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM daily_reports WHERE site_id = ? AND report_date = ?`,
		report.SiteID, report.ReportDate,
	).Scan(&report.ID, &createdAt); err != nil {
		return err
	}
	report.CreatedAt = parseTime(createdAt)
	return nil
}

func (r *SQLiteDailyReportRepository) Get(ctx context.Context, siteID, day string) (*models.DailyReport, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM daily_reports
		WHERE site_id = ? AND report_date = ?`, siteID, day)
	report, err := scanDailyReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return report, err
}

func (r *SQLiteDailyReportRepository) ListBySite(ctx context.Context, siteID string, limit int) ([]*models.DailyReport, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM daily_reports
		WHERE site_id = ? ORDER BY report_date DESC LIMIT ?`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reports []*models.DailyReport
	for rows.Next() {
		report, err := scanDailyReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func scanDailyReport(s rowScanner) (*models.DailyReport, error) {
	var rep models.DailyReport
	var details sql.NullString
	var createdAt, updatedAt string
	if err := s.Scan(&rep.ID, &rep.SiteID, &rep.ReportDate, &rep.NewCount, &rep.ChangedCount, &rep.RemovedCount,
		&rep.GoogleSubmitted, &rep.GoogleFailed, &rep.GoogleRateLimited, &rep.IndexNowSubmitted, &rep.IndexNowFailed,
		&rep.DeadCount, &rep.IndexedCount, &rep.TotalCount, &rep.CreditsUsed, &rep.CreditsRemaining, &details,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if details.Valid && details.String != "" {
		rep.Details = json.RawMessage(details.String)
	}
	rep.CreatedAt = parseTime(createdAt)
	rep.UpdatedAt = parseTime(updatedAt)
	return &rep, nil
}
