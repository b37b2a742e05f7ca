package service

import (
	"context"
	"log/slog"
	"time"
)

// CleanupService purges expired quota counters and archived reports. The
// activity log and credit ledger are never touched.
type CleanupService struct {
	quota      *QuotaService
	storageSvc *StorageService
	logger     *slog.Logger
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(quota *QuotaService, storageSvc *StorageService, logger *slog.Logger) *CleanupService {
	return &CleanupService{
		quota:      quota,
		storageSvc: storageSvc,
		logger:     logger.With("component", "cleanup"),
	}
}

// CleanupResult contains the results of a cleanup operation.
type CleanupResult struct {
	QuotaRowsDeleted      int64
	StorageReportsDeleted int
	Errors                []error
}

// Cleanup removes quota counters older than quotaRetentionDays and archived
// report objects older than reportMaxAge.
func (s *CleanupService) Cleanup(ctx context.Context, quotaRetentionDays int, reportMaxAge time.Duration) *CleanupResult {
	result := &CleanupResult{}

	n, err := s.quota.PurgeBefore(ctx, quotaRetentionDays)
	if err != nil {
		s.logger.Error("failed to purge quota counters", "error", err)
		result.Errors = append(result.Errors, err)
	} else {
		result.QuotaRowsDeleted = n
	}

	if s.storageSvc.IsEnabled() {
		count, err := s.storageSvc.DeleteOldReports(ctx, reportMaxAge)
		if err != nil {
			s.logger.Error("failed to delete old report archives", "error", err)
			result.Errors = append(result.Errors, err)
		} else {
			result.StorageReportsDeleted = count
		}
	}

	s.logger.Info("cleanup completed",
		"quota_rows_deleted", result.QuotaRowsDeleted,
		"storage_reports_deleted", result.StorageReportsDeleted,
		"errors", len(result.Errors),
	)
	return result
}

// RunScheduledCleanup runs the cleanup task until ctx ends.
// It runs immediately on start and then at the specified interval.
func (s *CleanupService) RunScheduledCleanup(ctx context.Context, quotaRetentionDays int, reportMaxAge, interval time.Duration) {
	s.logger.Info("starting scheduled cleanup",
		"quota_retention_days", quotaRetentionDays,
		"report_max_age", reportMaxAge.String(),
		"interval", interval.String(),
	)

	s.Cleanup(ctx, quotaRetentionDays, reportMaxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduled cleanup stopped")
			return
		case <-ticker.C:
			s.Cleanup(ctx, quotaRetentionDays, reportMaxAge)
		}
	}
}
