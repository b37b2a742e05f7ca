package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// SQLiteActivityLogRepository implements ActivityLogRepository for SQLite.
type SQLiteActivityLogRepository struct {
	db *sql.DB
}

// NewSQLiteActivityLogRepository creates a new SQLite activity log repository.
func NewSQLiteActivityLogRepository(db *sql.DB) *SQLiteActivityLogRepository {
	return &SQLiteActivityLogRepository{db: db}
}

func (r *SQLiteActivityLogRepository) Create(ctx context.Context, entry *models.ActivityLogEntry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO activity_log (id, user_id, site_id, url_id, action, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.SiteID, entry.URLID, entry.Action, nullString(entry.Details),
		formatTime(entry.CreatedAt))
	return err
}

func (r *SQLiteActivityLogRepository) ListBySite(ctx context.Context, siteID string, limit int) ([]*models.ActivityLogEntry, error) {
	return r.query(ctx, `SELECT id, user_id, site_id, url_id, action, details, created_at
		FROM activity_log WHERE site_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, siteID, limit)
}

func (r *SQLiteActivityLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.ActivityLogEntry, error) {
	return r.query(ctx, `SELECT id, user_id, site_id, url_id, action, details, created_at
		FROM activity_log WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
}

func (r *SQLiteActivityLogRepository) query(ctx context.Context, query string, args ...any) ([]*models.ActivityLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.ActivityLogEntry
	for rows.Next() {
		var e models.ActivityLogEntry
		var siteID, urlID, details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &siteID, &urlID, &e.Action, &details, &createdAt); err != nil {
			return nil, err
		}
		e.SiteID = nullStringPtr(siteID)
		e.URLID = nullStringPtr(urlID)
		e.Details = details.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
