package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// ========================================
// Credit Ledger Repository Tests
// ========================================

func TestLedgerRepository_BalanceEmpty(t *testing.T) {
	repos, _ := setupTestRepos(t)

	balance, err := repos.Ledger.Balance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestLedgerRepository_AppendSnapshotsBalance(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	tx1, err := repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypeBonus, Amount: 25, Description: "Welcome"})
	if err != nil {
		t.Fatalf("Append bonus: %v", err)
	}
	if tx1.BalanceAfter != 25 {
		t.Errorf("balance_after = %d, want 25", tx1.BalanceAfter)
	}

	tx2, err := repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypeUsage, Amount: -1, Description: "submit"})
	if err != nil {
		t.Fatalf("Append usage: %v", err)
	}
	if tx2.BalanceAfter != 24 {
		t.Errorf("balance_after = %d, want 24", tx2.BalanceAfter)
	}

	balance, _ := repos.Ledger.Balance(ctx, "user-1")
	if balance != 24 {
		t.Errorf("balance = %d, want 24", balance)
	}
}

func TestLedgerRepository_InsufficientWritesNothing(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	if _, err := repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypePurchase, Amount: 50}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypeUsage, Amount: -100})
	if !errors.Is(err, ErrLedgerInsufficient) {
		t.Fatalf("err = %v, want ErrLedgerInsufficient", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM credit_transactions WHERE user_id = ?`, "user-1").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("transaction rows = %d, want 1", count)
	}
	balance, _ := repos.Ledger.Balance(ctx, "user-1")
	if balance != 50 {
		t.Errorf("balance = %d, want 50", balance)
	}
}

func TestLedgerRepository_DuplicateOrder(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()
	order := "ord_1"

	first, err := repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypePurchase, Amount: 200, ExternalOrderID: &order})
	if err != nil {
		t.Fatalf("first purchase: %v", err)
	}

	existing, err := repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypePurchase, Amount: 200, ExternalOrderID: &order})
	if !errors.Is(err, ErrLedgerDuplicateOrder) {
		t.Fatalf("err = %v, want ErrLedgerDuplicateOrder", err)
	}
	if existing == nil || existing.ID != first.ID {
		t.Errorf("expected the original transaction to be returned")
	}

	balance, _ := repos.Ledger.Balance(ctx, "user-1")
	if balance != 200 {
		t.Errorf("balance = %d, want 200", balance)
	}
}

func TestLedgerRepository_ConcurrentDebitsNeverNegative(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	if _, err := repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypePurchase, Amount: 10}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypeUsage, Amount: -1})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("successful debits = %d, want 10", succeeded)
	}
	balance, _ := repos.Ledger.Balance(ctx, "user-1")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestLedgerRepository_SumMatchesLastSnapshot(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	amounts := []int64{100, -3, -7, 20, -1}
	for _, a := range amounts {
		typ := models.TxTypeUsage
		if a > 0 {
			typ = models.TxTypePurchase
		}
		if _, err := repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: typ, Amount: a}); err != nil {
			t.Fatalf("append %d: %v", a, err)
		}
	}

	txs, err := repos.Ledger.GetByUserID(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if len(txs) != len(amounts) {
		t.Fatalf("got %d transactions, want %d", len(txs), len(amounts))
	}

	var sum int64
	for _, tx := range txs {
		sum += tx.Amount
	}
	balance, _ := repos.Ledger.Balance(ctx, "user-1")
	if sum != balance || txs[0].BalanceAfter != balance {
		t.Errorf("sum = %d, newest snapshot = %d, balance = %d", sum, txs[0].BalanceAfter, balance)
	}
}

func TestLedgerRepository_UsageSince(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)

	_, _ = repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypePurchase, Amount: 50})
	_, _ = repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypeUsage, Amount: -1})
	_, _ = repos.Ledger.Append(ctx, LedgerEntry{UserID: "user-1", Type: models.TxTypeUsage, Amount: -1})

	used, err := repos.Ledger.UsageSince(ctx, "user-1", start)
	if err != nil {
		t.Fatalf("UsageSince: %v", err)
	}
	if used != 2 {
		t.Errorf("used = %d, want 2", used)
	}
}

func TestLedgerRepository_AppendExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnError(errors.New("UNIQUE constraint failed: credit_transactions.external_order_id"))

	repo := NewSQLiteCreditLedgerRepository(db)
	order := "ord_x"
	_, err = repo.Append(context.Background(), LedgerEntry{UserID: "u", Type: models.TxTypePurchase, Amount: 5, ExternalOrderID: &order})
	if !errors.Is(err, ErrLedgerDuplicateOrder) {
		t.Errorf("err = %v, want ErrLedgerDuplicateOrder", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLedgerRepository_AppendZeroRowsWithoutOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO credit_transactions").WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewSQLiteCreditLedgerRepository(db)
	_, err = repo.Append(context.Background(), LedgerEntry{UserID: "u", Type: models.TxTypeUsage, Amount: -1})
	if !errors.Is(err, ErrLedgerInsufficient) {
		t.Errorf("err = %v, want ErrLedgerInsufficient", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
