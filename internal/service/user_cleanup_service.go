package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// UserCleanupService handles deletion of all user data.
// This is used when a user deletes their account.
type UserCleanupService struct {
	db         *sql.DB
	storageSvc *StorageService
	logger     *slog.Logger
}

// NewUserCleanupService creates a new user cleanup service.
func NewUserCleanupService(db *sql.DB, storageSvc *StorageService, logger *slog.Logger) *UserCleanupService {
	return &UserCleanupService{
		db:         db,
		storageSvc: storageSvc,
		logger:     logger,
	}
}

// userDataDeletes run in order inside one transaction. Deleting sites
// cascades to tracked URLs, their activity and daily reports.
var userDataDeletes = []struct {
	table string
	query string
}{
	{"activity_log", `DELETE FROM activity_log WHERE user_id = ?`},
	{"sites", `DELETE FROM sites WHERE user_id = ?`},
	{"daily_quota_counters", `DELETE FROM daily_quota_counters WHERE user_id = ?`},
	{"credit_transactions", `DELETE FROM credit_transactions WHERE user_id = ?`},
}

// DeleteAllUserData deletes all data associated with a user: sites and
// everything under them, activity, quota counters and the credit ledger.
// This operation is irreversible.
func (s *UserCleanupService) DeleteAllUserData(ctx context.Context, userID string) error {
	s.logger.Info("starting user data deletion", "user_id", userID)

	siteIDs, err := s.siteIDs(ctx, userID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range userDataDeletes {
		if _, err := tx.ExecContext(ctx, d.query, userID); err != nil {
			s.logger.Error("failed to delete user data", "user_id", userID, "table", d.table, "error", err)
			return fmt.Errorf("delete %s: %w", d.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	// Archived reports are best effort once the rows are gone.
	for _, id := range siteIDs {
		if _, err := s.storageSvc.DeleteSiteReports(ctx, id); err != nil {
			s.logger.Warn("failed to delete archived reports", "user_id", userID, "site_id", id, "error", err)
		}
	}

	s.logger.Info("user data deletion completed", "user_id", userID, "sites", len(siteIDs))
	return nil
}

func (s *UserCleanupService) siteIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sites WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
