package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// SQLiteJobRunRepository implements JobRunRepository for SQLite.
type SQLiteJobRunRepository struct {
	db *sql.DB
}

// NewSQLiteJobRunRepository creates a new SQLite job run repository.
func NewSQLiteJobRunRepository(db *sql.DB) *SQLiteJobRunRepository {
	return &SQLiteJobRunRepository{db: db}
}

func (r *SQLiteJobRunRepository) Upsert(ctx context.Context, run *models.JobRun) error {
	run.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO job_runs (job_name, last_run_at, last_result, last_summary, duration_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_name) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_result = excluded.last_result,
			last_summary = excluded.last_summary,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at`,
		run.JobName, formatTime(run.LastRunAt), run.LastResult, run.LastSummary, run.DurationMS,
		formatTime(run.UpdatedAt))
	return err
}

func (r *SQLiteJobRunRepository) Get(ctx context.Context, jobName string) (*models.JobRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT job_name, last_run_at, last_result, last_summary, duration_ms, updated_at
		FROM job_runs WHERE job_name = ?`, jobName)
	run, err := scanJobRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteJobRunRepository) List(ctx context.Context) ([]*models.JobRun, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT job_name, last_run_at, last_result, last_summary, duration_ms, updated_at
		FROM job_runs ORDER BY job_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanJobRun(s rowScanner) (*models.JobRun, error) {
	var run models.JobRun
	var summary sql.NullString
	var lastRunAt, updatedAt string
	if err := s.Scan(&run.JobName, &lastRunAt, &run.LastResult, &summary, &run.DurationMS, &updatedAt); err != nil {
		return nil, err
	}
	run.LastSummary = summary.String
	run.LastRunAt = parseTime(lastRunAt)
	run.UpdatedAt = parseTime(updatedAt)
	return &run, nil
}
