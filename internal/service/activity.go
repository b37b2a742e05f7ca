package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// maxActivityPerAction bounds the per-URL entries one run writes for a
// single action; anything past it is folded into a summary entry.
const maxActivityPerAction = 100

// activityRecorder appends audit entries. Write failures are logged and
// never fail the surrounding operation.
type activityRecorder struct {
	repo   repository.ActivityLogRepository
	logger *slog.Logger
	now    func() time.Time
}

func newActivityRecorder(repo repository.ActivityLogRepository, logger *slog.Logger) *activityRecorder {
	return &activityRecorder{repo: repo, logger: logger, now: time.Now}
}

func (a *activityRecorder) record(ctx context.Context, userID, siteID string, urlID *string, action models.ActivityAction, details string) {
	if a == nil || a.repo == nil {
		return
	}
	entry := &models.ActivityLogEntry{
		UserID:    userID,
		URLID:     urlID,
		Action:    action,
		Details:   details,
		CreatedAt: a.now().UTC(),
	}
	if siteID != "" {
		entry.SiteID = &siteID
	}
	if err := a.repo.Create(ctx, entry); err != nil {
		a.logger.Warn("failed to write activity log", "action", action, "site_id", siteID, "error", err)
	}
}

// recordURLs writes one entry per URL up to maxActivityPerAction, then a
// single summary for the remainder.
func (a *activityRecorder) recordURLs(ctx context.Context, userID, siteID string, action models.ActivityAction, urls []*models.TrackedURL, detail func(*models.TrackedURL) string) {
	for i, u := range urls {
		if i == maxActivityPerAction {
			a.record(ctx, userID, siteID, nil, action, fmt.Sprintf("and %d more", len(urls)-i))
			return
		}
		id := u.ID
		a.record(ctx, userID, siteID, &id, action, detail(u))
	}
}
