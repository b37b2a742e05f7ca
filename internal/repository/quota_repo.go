package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// SQLiteQuotaRepository implements QuotaRepository for SQLite.
// Counters are keyed by (user_id, day); a missing row means zero usage.
type SQLiteQuotaRepository struct {
	db *sql.DB
}

// NewSQLiteQuotaRepository creates a new SQLite quota repository.
func NewSQLiteQuotaRepository(db *sql.DB) *SQLiteQuotaRepository {
	return &SQLiteQuotaRepository{db: db}
}

func (r *SQLiteQuotaRepository) Get(ctx context.Context, userID, day string) (models.QuotaUsage, error) {
	usage := models.QuotaUsage{UserID: userID, Day: day}
	err := r.db.QueryRowContext(ctx,
		`SELECT submissions, inspections FROM daily_quota_counters WHERE user_id = ? AND day = ?`,
		userID, day,
	).Scan(&usage.Submissions, &usage.Inspections)
	if errors.Is(err, sql.ErrNoRows) {
		return usage, nil
	}
	return usage, err
}

func (r *SQLiteQuotaRepository) Increment(ctx context.Context, userID, day string, submissions, inspections int) (models.QuotaUsage, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_quota_counters (user_id, day, submissions, inspections, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, day) DO UPDATE SET
			submissions = daily_quota_counters.submissions + excluded.submissions,
			inspections = daily_quota_counters.inspections + excluded.inspections,
			updated_at = excluded.updated_at
	`, userID, day, submissions, inspections, formatTime(time.Now()))
	if err != nil {
		return models.QuotaUsage{}, err
	}
	return r.Get(ctx, userID, day)
}

// TryConsume is a single upsert whose update only applies while the new
// count stays within limit, so concurrent callers cannot overshoot.
func (r *SQLiteQuotaRepository) TryConsume(ctx context.Context, userID, day string, bucket models.QuotaBucket, n, limit int) (models.QuotaUsage, error) {
	column, err := quotaColumn(bucket)
	if err != nil {
		return models.QuotaUsage{}, err
	}

	query := fmt.Sprintf(`
		INSERT INTO daily_quota_counters (user_id, day, %[1]s, updated_at)
		SELECT ?, ?, ?, ? WHERE ? <= ?
		ON CONFLICT(user_id, day) DO UPDATE SET
			%[1]s = daily_quota_counters.%[1]s + excluded.%[1]s,
			updated_at = excluded.updated_at
		WHERE daily_quota_counters.%[1]s + excluded.%[1]s <= ?
	`, column)

	result, err := r.db.ExecContext(ctx, query,
		userID, day, n, formatTime(time.Now()), n, limit, limit)
	if err != nil {
		return models.QuotaUsage{}, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return models.QuotaUsage{}, err
	}

	usage, err := r.Get(ctx, userID, day)
	if err != nil {
		return usage, err
	}
	if affected == 0 {
		return usage, ErrQuotaCeiling
	}
	return usage, nil
}

func (r *SQLiteQuotaRepository) DeleteBefore(ctx context.Context, day string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM daily_quota_counters WHERE day < ?`, day)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func quotaColumn(bucket models.QuotaBucket) (string, error) {
	switch bucket {
	case models.QuotaSubmissions:
		return "submissions", nil
	case models.QuotaInspections:
		return "inspections", nil
	default:
		return "", fmt.Errorf("unknown quota bucket %q", bucket)
	}
}
