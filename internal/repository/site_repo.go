package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// SQLiteSiteRepository implements SiteRepository for SQLite.
type SQLiteSiteRepository struct {
	db *sql.DB
}

// NewSQLiteSiteRepository creates a new SQLite site repository.
func NewSQLiteSiteRepository(db *sql.DB) *SQLiteSiteRepository {
	return &SQLiteSiteRepository{db: db}
}

const siteColumns = `id, user_id, domain, sitemap_url, google_enabled, indexnow_enabled,
	indexnow_key_encrypted, last_synced_at, created_at, updated_at`

// Upsert keeps engine toggles and the IndexNow key of an existing row and
// only fills in the sitemap location when the stored one is empty.
func (r *SQLiteSiteRepository) Upsert(ctx context.Context, site *models.Site) error {
	now := time.Now().UTC()
	if site.ID == "" {
		site.ID = ulid.Make().String()
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = now
	}
	site.UpdatedAt = now

	query := `INSERT INTO sites (` + siteColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, domain) DO UPDATE SET
			sitemap_url = COALESCE(NULLIF(sites.sitemap_url, ''), excluded.sitemap_url),
			last_synced_at = COALESCE(excluded.last_synced_at, sites.last_synced_at),
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		site.ID, site.UserID, site.Domain, nullString(site.SitemapURL),
		boolToInt(site.GoogleEnabled), boolToInt(site.IndexNowEnabled),
		nullString(site.IndexNowKeyEnc), formatTimePtr(site.LastSyncedAt),
		formatTime(site.CreatedAt), formatTime(site.UpdatedAt),
	)
	if err != nil {
		return err
	}

	// Resolve the id of the stored row; it differs from site.ID on conflict.
	return r.db.QueryRowContext(ctx,
		`SELECT id FROM sites WHERE user_id = ? AND domain = ?`, site.UserID, site.Domain,
	).Scan(&site.ID)
}

func (r *SQLiteSiteRepository) GetByID(ctx context.Context, id string) (*models.Site, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = ?`, id)
	site, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return site, err
}

func (r *SQLiteSiteRepository) GetByUserID(ctx context.Context, userID string) ([]*models.Site, error) {
	return r.list(ctx, `SELECT `+siteColumns+` FROM sites WHERE user_id = ? ORDER BY domain`, userID)
}

func (r *SQLiteSiteRepository) ListAutoIndexEnabled(ctx context.Context) ([]*models.Site, error) {
	return r.list(ctx, `SELECT `+siteColumns+` FROM sites
		WHERE google_enabled = 1 OR indexnow_enabled = 1
		ORDER BY created_at, id`)
}

func (r *SQLiteSiteRepository) ListGoogleEnabled(ctx context.Context) ([]*models.Site, error) {
	return r.list(ctx, `SELECT `+siteColumns+` FROM sites WHERE google_enabled = 1 ORDER BY created_at, id`)
}

func (r *SQLiteSiteRepository) UpdateSettings(ctx context.Context, site *models.Site) error {
	site.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `UPDATE sites SET
			sitemap_url = ?, google_enabled = ?, indexnow_enabled = ?,
			indexnow_key_encrypted = ?, updated_at = ?
		WHERE id = ?`,
		nullString(site.SitemapURL), boolToInt(site.GoogleEnabled), boolToInt(site.IndexNowEnabled),
		nullString(site.IndexNowKeyEnc), formatTime(site.UpdatedAt), site.ID,
	)
	return err
}

func (r *SQLiteSiteRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sites SET last_synced_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(time.Now()), id)
	return err
}

// Delete removes the site; tracked URLs, activity and reports cascade.
func (r *SQLiteSiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	return err
}

func (r *SQLiteSiteRepository) list(ctx context.Context, query string, args ...any) ([]*models.Site, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sites []*models.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(s rowScanner) (*models.Site, error) {
	var site models.Site
	var sitemapURL, keyEnc, lastSynced sql.NullString
	var google, indexNow int
	var createdAt, updatedAt string

	if err := s.Scan(&site.ID, &site.UserID, &site.Domain, &sitemapURL, &google, &indexNow,
		&keyEnc, &lastSynced, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	site.SitemapURL = sitemapURL.String
	site.GoogleEnabled = google == 1
	site.IndexNowEnabled = indexNow == 1
	site.IndexNowKeyEnc = keyEnc.String
	site.LastSyncedAt = parseNullTime(lastSynced)
	site.CreatedAt = parseTime(createdAt)
	site.UpdatedAt = parseTime(updatedAt)
	return &site, nil
}
