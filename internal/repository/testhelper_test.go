package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/database/migrations"
	"github.com/jmylchreest/autoindex-api/internal/models"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) (*Repositories, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db), db
}

// InsertTestSite is a helper to create a site through the repository.
func InsertTestSite(t *testing.T, repos *Repositories, userID, domain string) *models.Site {
	t.Helper()
	site := &models.Site{UserID: userID, Domain: domain, GoogleEnabled: true}
	if err := repos.Site.Upsert(context.Background(), site); err != nil {
		t.Fatalf("failed to insert test site: %v", err)
	}
	return site
}

// InsertTestURLs is a helper to add pending URLs to a site.
func InsertTestURLs(t *testing.T, repos *Repositories, siteID string, urls ...string) []*models.TrackedURL {
	t.Helper()
	batch := DiffBatch{}
	for _, u := range urls {
		batch.Upserts = append(batch.Upserts, &models.TrackedURL{URL: u, IsNew: true})
	}
	if err := repos.TrackedURL.ApplyDiff(context.Background(), siteID, batch, time.Now()); err != nil {
		t.Fatalf("failed to insert test urls: %v", err)
	}
	return batch.Upserts
}
