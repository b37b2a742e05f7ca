package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// ========================================
// Daily Report Repository Tests
// ========================================

func TestReportRepository_UpsertKeepsOneRowPerDay(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()
	site := InsertTestSite(t, repos, "user-1", "https://a.example/")

	first := &models.DailyReport{SiteID: site.ID, ReportDate: "2026-10-01", NewCount: 5, GoogleSubmitted: 5}
	if err := repos.Report.Upsert(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second := &models.DailyReport{
		SiteID: site.ID, ReportDate: "2026-10-01", NewCount: 1, TotalCount: 40,
		Details: json.RawMessage(`{"urls":[]}`),
	}
	if err := repos.Report.Upsert(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second id = %s, want original %s", second.ID, first.ID)
	}

	var count int
	_ = db.QueryRow(`SELECT COUNT(*) FROM daily_reports WHERE site_id = ?`, site.ID).Scan(&count)
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}

	got, err := repos.Report.Get(ctx, site.ID, "2026-10-01")
	if err != nil || got == nil {
		t.Fatalf("Get: %v", err)
	}
	if got.NewCount != 1 || got.GoogleSubmitted != 0 || got.TotalCount != 40 {
		t.Errorf("report does not reflect latest run: %+v", got)
	}
	if string(got.Details) != `{"urls":[]}` {
		t.Errorf("details = %s", got.Details)
	}
}

func TestReportRepository_ListBySite(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()
	site := InsertTestSite(t, repos, "user-1", "https://a.example/")

	for _, day := range []string{"2026-10-01", "2026-10-03", "2026-10-02"} {
		if err := repos.Report.Upsert(ctx, &models.DailyReport{SiteID: site.ID, ReportDate: day}); err != nil {
			t.Fatalf("upsert %s: %v", day, err)
		}
	}

	reports, err := repos.Report.ListBySite(ctx, site.ID, 2)
	if err != nil {
		t.Fatalf("ListBySite: %v", err)
	}
	if len(reports) != 2 || reports[0].ReportDate != "2026-10-03" {
		t.Errorf("got %v, want newest first", reports)
	}
}

// ========================================
// Job Run Repository Tests
// ========================================

func TestJobRunRepository_Upsert(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	run := &models.JobRun{JobName: models.JobDailyIndex, LastRunAt: time.Now(), LastResult: models.JobResultPartial, LastSummary: "3 sites, 1 error"}
	if err := repos.JobRun.Upsert(ctx, run); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	run.LastResult = models.JobResultSuccess
	run.LastSummary = "3 sites"
	if err := repos.JobRun.Upsert(ctx, run); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	runs, err := repos.JobRun.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].LastResult != models.JobResultSuccess || runs[0].LastSummary != "3 sites" {
		t.Errorf("run = %+v", runs[0])
	}

	missing, err := repos.JobRun.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Get(nope) = %v, %v", missing, err)
	}
}
