package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// SQLiteTrackedURLRepository implements TrackedURLRepository for SQLite.
type SQLiteTrackedURLRepository struct {
	db *sql.DB
}

// NewSQLiteTrackedURLRepository creates a new SQLite tracked URL repository.
func NewSQLiteTrackedURLRepository(db *sql.DB) *SQLiteTrackedURLRepository {
	return &SQLiteTrackedURLRepository{db: db}
}

const trackedURLColumns = `id, site_id, url, coverage_state, index_status, submission_method,
	submitted_at, last_synced_at, http_status, error_message, is_new, is_changed, is_removed,
	retry_count, last_modified, created_at, updated_at`

func (r *SQLiteTrackedURLRepository) GetByID(ctx context.Context, id string) (*models.TrackedURL, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+trackedURLColumns+` FROM tracked_urls WHERE id = ?`, id)
	u, err := scanTrackedURL(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (r *SQLiteTrackedURLRepository) GetBySiteID(ctx context.Context, siteID string) ([]*models.TrackedURL, error) {
	return r.query(ctx, `SELECT `+trackedURLColumns+` FROM tracked_urls WHERE site_id = ? ORDER BY url`, siteID)
}

func (r *SQLiteTrackedURLRepository) List(ctx context.Context, siteID string, filter URLFilter) ([]*models.TrackedURL, error) {
	query := `SELECT ` + trackedURLColumns + ` FROM tracked_urls WHERE site_id = ?`
	args := []any{siteID}
	if filter.Status != "" {
		query += ` AND index_status = ?`
		args = append(args, filter.Status)
	}
	if !filter.IncludeRemoved {
		query += ` AND is_removed = 0`
	}
	query += ` ORDER BY url`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}
	return r.query(ctx, query, args...)
}

func (r *SQLiteTrackedURLRepository) ApplyDiff(ctx context.Context, siteID string, batch DiffBatch, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTime(now)

	if _, err := tx.ExecContext(ctx,
		`UPDATE tracked_urls SET is_new = 0, is_changed = 0 WHERE site_id = ? AND (is_new = 1 OR is_changed = 1)`,
		siteID); err != nil {
		return fmt.Errorf("clear diff flags: %w", err)
	}

	upsert := `INSERT INTO tracked_urls (
			id, site_id, url, index_status, submission_method, is_new, is_changed, is_removed,
			retry_count, last_modified, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'none', ?, ?, 0, 0, ?, ?, ?)
		ON CONFLICT(site_id, url) DO UPDATE SET
			index_status = excluded.index_status,
			is_new = excluded.is_new,
			is_changed = excluded.is_changed,
			is_removed = 0,
			retry_count = 0,
			error_message = NULL,
			last_modified = excluded.last_modified,
			updated_at = excluded.updated_at`

	for _, u := range batch.Upserts {
		if u.ID == "" {
			u.ID = ulid.Make().String()
		}
		if u.IndexStatus == "" {
			u.IndexStatus = models.IndexStatusPending
		}
		if _, err := tx.ExecContext(ctx, upsert,
			u.ID, siteID, u.URL, u.IndexStatus, boolToInt(u.IsNew), boolToInt(u.IsChanged),
			u.LastModified, ts, ts,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", u.URL, err)
		}
	}

	for _, id := range batch.RemovedIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tracked_urls SET is_removed = 1, updated_at = ? WHERE id = ? AND site_id = ?`,
			ts, id, siteID); err != nil {
			return fmt.Errorf("flag removed %s: %w", id, err)
		}
	}

	for _, id := range batch.RestoredIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tracked_urls SET is_removed = 0, updated_at = ? WHERE id = ? AND site_id = ?`,
			ts, id, siteID); err != nil {
			return fmt.Errorf("restore %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteTrackedURLRepository) UpdateProbe(ctx context.Context, id string, httpStatus *int, errMsg *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tracked_urls SET http_status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		httpStatus, errMsg, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteTrackedURLRepository) UpdateSubmission(ctx context.Context, u *models.TrackedURL) error {
	u.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `UPDATE tracked_urls SET
			index_status = ?, submission_method = ?, submitted_at = ?,
			error_message = ?, retry_count = ?, updated_at = ?
		WHERE id = ?`,
		u.IndexStatus, u.SubmissionMethod, formatTimePtr(u.SubmittedAt),
		u.ErrorMessage, u.RetryCount, formatTime(u.UpdatedAt), u.ID)
	return err
}

func (r *SQLiteTrackedURLRepository) UpdateCoverage(ctx context.Context, id, coverageState string, syncedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tracked_urls SET coverage_state = ?, last_synced_at = ?, updated_at = ? WHERE id = ?`,
		coverageState, formatTime(syncedAt), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteTrackedURLRepository) ListFailedForRetry(ctx context.Context, siteID string, maxRetries int) ([]*models.TrackedURL, error) {
	return r.query(ctx, `SELECT `+trackedURLColumns+` FROM tracked_urls
		WHERE site_id = ? AND index_status = ? AND is_removed = 0 AND retry_count < ?
		ORDER BY is_new DESC, url`,
		siteID, models.IndexStatusFailed, maxRetries)
}

func (r *SQLiteTrackedURLRepository) ListForInspection(ctx context.Context, siteID string, limit int) ([]*models.TrackedURL, error) {
	return r.query(ctx, `SELECT `+trackedURLColumns+` FROM tracked_urls
		WHERE site_id = ? AND is_removed = 0
		ORDER BY last_synced_at IS NOT NULL, last_synced_at, url
		LIMIT ?`,
		siteID, limit)
}

func (r *SQLiteTrackedURLRepository) CountBySite(ctx context.Context, siteID string) (int, int, error) {
	var total, indexed int
	err := r.db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN lower(coverage_state) LIKE '%indexed%'
				AND lower(coverage_state) NOT LIKE '%not indexed%' THEN 1 ELSE 0 END), 0)
		FROM tracked_urls WHERE site_id = ? AND is_removed = 0`, siteID,
	).Scan(&total, &indexed)
	return total, indexed, err
}

func (r *SQLiteTrackedURLRepository) query(ctx context.Context, query string, args ...any) ([]*models.TrackedURL, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var urls []*models.TrackedURL
	for rows.Next() {
		u, err := scanTrackedURL(rows)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func scanTrackedURL(s rowScanner) (*models.TrackedURL, error) {
	var u models.TrackedURL
	var coverage, submittedAt, lastSynced, errMsg, lastMod sql.NullString
	var httpStatus sql.NullInt64
	var isNew, isChanged, isRemoved int
	var createdAt, updatedAt string

	if err := s.Scan(&u.ID, &u.SiteID, &u.URL, &coverage, &u.IndexStatus, &u.SubmissionMethod,
		&submittedAt, &lastSynced, &httpStatus, &errMsg, &isNew, &isChanged, &isRemoved,
		&u.RetryCount, &lastMod, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	u.CoverageState = nullStringPtr(coverage)
	u.SubmittedAt = parseNullTime(submittedAt)
	u.LastSyncedAt = parseNullTime(lastSynced)
	u.HTTPStatus = nullIntPtr(httpStatus)
	u.ErrorMessage = nullStringPtr(errMsg)
	u.IsNew = isNew == 1
	u.IsChanged = isChanged == 1
	u.IsRemoved = isRemoved == 1
	u.LastModified = nullStringPtr(lastMod)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}
