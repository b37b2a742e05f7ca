package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// ========================================
// Credit Ledger Repository
// ========================================

// SQLiteCreditLedgerRepository implements CreditLedgerRepository for SQLite.
// The balance is never stored separately; it is SUM(amount) over the
// user's transactions, and each row snapshots it in balance_after.
type SQLiteCreditLedgerRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCreditLedgerRepository creates a new SQLite credit ledger repository.
func NewSQLiteCreditLedgerRepository(db *sql.DB) *SQLiteCreditLedgerRepository {
	return &SQLiteCreditLedgerRepository{db: db, now: time.Now}
}

func (r *SQLiteCreditLedgerRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = ?`, userID,
	).Scan(&balance)
	return balance, err
}

// appendQuery inserts the row only when the post-mutation balance is
// non-negative. Evaluating the balance and inserting in one statement means
// two concurrent debits can never both pass against the same stale balance.
const appendQuery = `
	INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, description, external_order_id, created_at)
	SELECT ?, ?, ?, ?, b.balance + ?, ?, ?, ?
	FROM (SELECT COALESCE(SUM(amount), 0) AS balance FROM credit_transactions WHERE user_id = ?) AS b
	WHERE b.balance + ? >= 0
	ON CONFLICT(external_order_id) DO NOTHING`

func (r *SQLiteCreditLedgerRepository) Append(ctx context.Context, entry LedgerEntry) (*models.CreditTransaction, error) {
	tx := &models.CreditTransaction{
		ID:              ulid.Make().String(),
		UserID:          entry.UserID,
		Type:            entry.Type,
		Amount:          entry.Amount,
		Description:     entry.Description,
		ExternalOrderID: entry.ExternalOrderID,
		CreatedAt:       r.now().UTC(),
	}

	result, err := r.db.ExecContext(ctx, appendQuery,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Amount, tx.Description, tx.ExternalOrderID,
		formatTime(tx.CreatedAt), tx.UserID, tx.Amount,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrLedgerDuplicateOrder
		}
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if entry.ExternalOrderID != nil {
			existing, err := r.GetByExternalOrderID(ctx, *entry.ExternalOrderID)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return existing, ErrLedgerDuplicateOrder
			}
		}
		return nil, ErrLedgerInsufficient
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT balance_after FROM credit_transactions WHERE id = ?`, tx.ID,
	).Scan(&tx.BalanceAfter); err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *SQLiteCreditLedgerRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.CreditTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, type, amount, balance_after, description, external_order_id, created_at
		FROM credit_transactions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var transactions []*models.CreditTransaction
	for rows.Next() {
		tx, err := scanCreditTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func (r *SQLiteCreditLedgerRepository) GetByExternalOrderID(ctx context.Context, orderID string) (*models.CreditTransaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, user_id, type, amount, balance_after, description, external_order_id, created_at
		FROM credit_transactions WHERE external_order_id = ?`, orderID)
	tx, err := scanCreditTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tx, err
}

func (r *SQLiteCreditLedgerRepository) UsageSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var used int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(-SUM(amount), 0) FROM credit_transactions
		WHERE user_id = ? AND type = ? AND created_at >= ?`,
		userID, models.TxTypeUsage, formatTime(since),
	).Scan(&used)
	return used, err
}

func scanCreditTransaction(s rowScanner) (*models.CreditTransaction, error) {
	var tx models.CreditTransaction
	var description, orderID sql.NullString
	var createdAt string
	if err := s.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.BalanceAfter,
		&description, &orderID, &createdAt); err != nil {
		return nil, err
	}
	tx.Description = description.String
	tx.ExternalOrderID = nullStringPtr(orderID)
	tx.CreatedAt = parseTime(createdAt)
	return &tx, nil
}

// isDuplicateKeyError checks if an error is a UNIQUE constraint violation.
// libsql only surfaces the SQLite message text.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
