package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// ========================================
// Quota Repository Tests
// ========================================

func TestQuotaRepository_MissingRowIsZero(t *testing.T) {
	repos, _ := setupTestRepos(t)

	usage, err := repos.Quota.Get(context.Background(), "user-1", "2026-10-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Submissions != 0 || usage.Inspections != 0 {
		t.Errorf("usage = %+v, want zero", usage)
	}
}

func TestQuotaRepository_Increment(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	if _, err := repos.Quota.Increment(ctx, "user-1", "2026-10-01", 2, 5); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	usage, err := repos.Quota.Increment(ctx, "user-1", "2026-10-01", 1, 0)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if usage.Submissions != 3 || usage.Inspections != 5 {
		t.Errorf("usage = %+v, want 3/5", usage)
	}

	other, _ := repos.Quota.Get(ctx, "user-1", "2026-10-02")
	if other.Submissions != 0 {
		t.Error("a new day must start from zero")
	}
}

func TestQuotaRepository_TryConsumeCeiling(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	if _, err := repos.Quota.TryConsume(ctx, "user-1", "2026-10-01", models.QuotaSubmissions, 3, 5); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	usage, err := repos.Quota.TryConsume(ctx, "user-1", "2026-10-01", models.QuotaSubmissions, 3, 5)
	if !errors.Is(err, ErrQuotaCeiling) {
		t.Fatalf("err = %v, want ErrQuotaCeiling", err)
	}
	if usage.Submissions != 3 {
		t.Errorf("submissions = %d, want unchanged 3", usage.Submissions)
	}

	if _, err := repos.Quota.TryConsume(ctx, "user-1", "2026-10-01", models.QuotaSubmissions, 2, 5); err != nil {
		t.Fatalf("consume to limit: %v", err)
	}

	if _, err := repos.Quota.TryConsume(ctx, "user-2", "2026-10-01", models.QuotaInspections, 6, 5); !errors.Is(err, ErrQuotaCeiling) {
		t.Errorf("oversized first request err = %v, want ErrQuotaCeiling", err)
	}
}

func TestQuotaRepository_TryConsumeConcurrent(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repos.Quota.TryConsume(ctx, "user-1", "2026-10-01", models.QuotaSubmissions, 1, 7)
		}()
	}
	wg.Wait()

	usage, _ := repos.Quota.Get(ctx, "user-1", "2026-10-01")
	if usage.Submissions != 7 {
		t.Errorf("submissions = %d, want 7", usage.Submissions)
	}
}

func TestQuotaRepository_DeleteBefore(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	_, _ = repos.Quota.Increment(ctx, "user-1", "2026-09-01", 1, 0)
	_, _ = repos.Quota.Increment(ctx, "user-1", "2026-10-01", 1, 0)

	deleted, err := repos.Quota.DeleteBefore(ctx, "2026-10-01")
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}
