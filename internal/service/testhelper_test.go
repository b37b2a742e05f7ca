package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/autoindex-api/internal/database/migrations"
	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/provider/google"
	"github.com/jmylchreest/autoindex-api/internal/provider/indexnow"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// setupTestDB creates an in-memory SQLite database with migrations applied.
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

func setupTestRepos(t *testing.T) (*repository.Repositories, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	return repository.NewRepositories(db), db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedClock returns a clock pinned to t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func insertSite(t *testing.T, repos *repository.Repositories, userID, domain string, configure func(*models.Site)) *models.Site {
	t.Helper()
	site := &models.Site{UserID: userID, Domain: domain}
	if err := repos.Site.Upsert(context.Background(), site); err != nil {
		t.Fatalf("failed to insert site: %v", err)
	}
	if configure != nil {
		configure(site)
		if err := repos.Site.UpdateSettings(context.Background(), site); err != nil {
			t.Fatalf("failed to update site: %v", err)
		}
	}
	return site
}

func insertURLs(t *testing.T, repos *repository.Repositories, siteID string, urls ...string) []*models.TrackedURL {
	t.Helper()
	batch := repository.DiffBatch{}
	for _, u := range urls {
		batch.Upserts = append(batch.Upserts, &models.TrackedURL{URL: u, IsNew: true})
	}
	if err := repos.TrackedURL.ApplyDiff(context.Background(), siteID, batch, time.Now()); err != nil {
		t.Fatalf("failed to insert urls: %v", err)
	}
	return batch.Upserts
}

func grantCredits(t *testing.T, ledger *LedgerService, userID string, amount int64) {
	t.Helper()
	if _, err := ledger.Add(context.Background(), userID, amount, models.TxTypeBonus, "test credits", nil); err != nil {
		t.Fatalf("failed to grant credits: %v", err)
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

// ----------------------------------------
// Provider fakes
// ----------------------------------------

type fakeTokens struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

func (f *fakeTokens) Token(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

// fakePublisher answers Publish from a per-URL script of errors, one entry
// per attempt. URLs without a script succeed.
type fakePublisher struct {
	mu     sync.Mutex
	script map[string][]error
	calls  []string
	onCall func(url string)
	tokens []string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{script: map[string][]error{}}
}

func (f *fakePublisher) Publish(ctx context.Context, token, pageURL string, typ google.NotificationType) error {
	f.mu.Lock()
	f.calls = append(f.calls, pageURL)
	f.tokens = append(f.tokens, token)
	var err error
	if steps := f.script[pageURL]; len(steps) > 0 {
		err = steps[0]
		f.script[pageURL] = steps[1:]
	}
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(pageURL)
	}
	return err
}

func (f *fakePublisher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

type fakeIndexNow struct {
	mu       sync.Mutex
	result   func(urls []string) indexnow.BatchResult
	received [][]string
	hosts    []string
	keys     []string
}

func (f *fakeIndexNow) Submit(ctx context.Context, host, key string, urls []string) indexnow.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, urls)
	f.hosts = append(f.hosts, host)
	f.keys = append(f.keys, key)
	if f.result != nil {
		return f.result(urls)
	}
	return indexnow.BatchResult{Submitted: len(urls), Requests: 1}
}

var errWrongOwner = errors.New("wrong owner")

// plainCipher "encrypts" by prefixing the owner id, enough to check that
// callers pass the right owner.
type plainCipher struct{}

func (plainCipher) Seal(plaintext, ownerID string) (string, error) {
	return ownerID + ":" + plaintext, nil
}

func (plainCipher) Open(ciphertext, ownerID string) (string, error) {
	prefix := ownerID + ":"
	if len(ciphertext) < len(prefix) || ciphertext[:len(prefix)] != prefix {
		return "", errWrongOwner
	}
	return ciphertext[len(prefix):], nil
}
