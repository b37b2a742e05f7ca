package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jmylchreest/autoindex-api/internal/constants"
	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

func newTestLedger(t *testing.T) *LedgerService {
	t.Helper()
	repos, _ := setupTestRepos(t)
	return NewLedgerService(repos.Ledger, testLogger())
}

func TestLedgerService_AddAndBalance(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Add(ctx, "user-1", 0, models.TxTypeBonus, "zero", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Add(0) err = %v, want ErrInvalidAmount", err)
	}

	tx, err := ledger.Add(ctx, "user-1", 25, models.TxTypeBonus, "welcome", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if tx.BalanceAfter != 25 {
		t.Errorf("balance_after = %d, want 25", tx.BalanceAfter)
	}

	balance, err := ledger.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 25 {
		t.Errorf("balance = %d, want 25", balance)
	}
}

func TestLedgerService_PurchaseIdempotent(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Purchase(ctx, "user-1", "growth", 0, "cs_123"); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	_, err := ledger.Purchase(ctx, "user-1", "growth", 0, "cs_123")
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("second Purchase err = %v, want ErrDuplicateEvent", err)
	}

	balance, _ := ledger.Balance(ctx, "user-1")
	if balance != 200 {
		t.Errorf("balance = %d, want 200 (credited once)", balance)
	}
}

func TestResolvePack(t *testing.T) {
	tests := []struct {
		name         string
		pack         string
		credits      int64
		wantPack     constants.CreditPackID
		wantCredits  int64
		wantInferred bool
		wantErr      error
	}{
		{"explicit wins over amount", "pro", 50, constants.PackPro, 500, false, nil},
		{"explicit without amount", "starter", 0, constants.PackStarter, 50, false, nil},
		{"inferred from amount", "", 200, constants.PackGrowth, 200, true, nil},
		{"unknown pack falls back to amount", "enterprise", 40, constants.PackStarter, 40, true, nil},
		{"nothing to go on", "", 0, "", 0, false, ErrUnknownPack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, credits, inferred, err := ResolvePack(tt.pack, tt.credits)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if id != tt.wantPack || credits != tt.wantCredits || inferred != tt.wantInferred {
				t.Errorf("got (%s, %d, %v), want (%s, %d, %v)",
					id, credits, inferred, tt.wantPack, tt.wantCredits, tt.wantInferred)
			}
		})
	}
}

func TestLedgerService_SignupBonusOnce(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	tx, err := ledger.GrantSignupBonus(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("GrantSignupBonus: %v", err)
	}
	if tx.ExternalOrderID == nil || *tx.ExternalOrderID != "signup:user-1" {
		t.Errorf("order id = %v, want signup:user-1", tx.ExternalOrderID)
	}
	if _, err := ledger.GrantSignupBonus(ctx, "user-1", 10); !errors.Is(err, ErrDuplicateEvent) {
		t.Errorf("second grant err = %v, want ErrDuplicateEvent", err)
	}
	balance, _ := ledger.Balance(ctx, "user-1")
	if balance != 10 {
		t.Errorf("balance = %d, want 10", balance)
	}
}

func TestLedgerService_Deduct(t *testing.T) {
	tests := []struct {
		name        string
		start       int64
		amount      int64
		wantErr     error
		wantBalance int64
		wantCrossed bool
	}{
		{"crosses threshold", 10, 1, nil, 9, true},
		{"already below threshold", 9, 1, nil, 8, false},
		{"stays above threshold", 50, 1, nil, 49, false},
		{"large debit crosses", 12, 5, nil, 7, true},
		{"to exactly zero", 1, 1, nil, 0, false},
		{"insufficient", 0, 1, ErrInsufficientCredits, 0, false},
		{"more than balance", 3, 5, ErrInsufficientCredits, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newTestLedger(t)
			ctx := context.Background()
			if tt.start > 0 {
				grantCredits(t, ledger, "user-1", tt.start)
			}

			res, err := ledger.Deduct(ctx, "user-1", tt.amount, "test")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			balance, _ := ledger.Balance(ctx, "user-1")
			if balance != tt.wantBalance {
				t.Errorf("balance = %d, want %d", balance, tt.wantBalance)
			}
			if err == nil && res.CrossedLowThreshold != tt.wantCrossed {
				t.Errorf("crossed = %v, want %v", res.CrossedLowThreshold, tt.wantCrossed)
			}
		})
	}
}

func TestLedgerService_DeductConcurrentNeverNegative(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	grantCredits(t, ledger, "user-1", 5)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Deduct(ctx, "user-1", 1, "race"); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 5 {
		t.Errorf("successful deductions = %d, want 5", ok.Load())
	}
	balance, _ := ledger.Balance(ctx, "user-1")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestLedgerService_ThresholdRearmsAfterPurchase(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	grantCredits(t, ledger, "user-1", 10)

	res, _ := ledger.Deduct(ctx, "user-1", 1, "a")
	if !res.CrossedLowThreshold {
		t.Fatal("first crossing not reported")
	}
	res, _ = ledger.Deduct(ctx, "user-1", 1, "b")
	if res.CrossedLowThreshold {
		t.Fatal("crossing reported twice in one episode")
	}

	if _, err := ledger.Purchase(ctx, "user-1", "starter", 0, "cs_rearm"); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	// 58 credits; spend down to 10 then cross again.
	for range 48 {
		if _, err := ledger.Deduct(ctx, "user-1", 1, "spend"); err != nil {
			t.Fatalf("Deduct: %v", err)
		}
	}
	res, _ = ledger.Deduct(ctx, "user-1", 1, "cross")
	if !res.CrossedLowThreshold {
		t.Error("crossing after top-up not reported")
	}
}

func TestLedgerService_RefundAndTransactions(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	grantCredits(t, ledger, "user-1", 5)

	tx, err := ledger.Refund(ctx, "user-1", 3, "")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if tx.Type != models.TxTypeRefund || tx.Amount != 3 || tx.Description != "Refund" {
		t.Errorf("refund tx = %+v", tx)
	}

	txs, err := ledger.Transactions(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Errorf("transactions = %d, want 2", len(txs))
	}
}

func TestLedgerService_DeductStorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO credit_transactions").WillReturnError(errors.New("disk I/O error"))

	ledger := NewLedgerService(repository.NewSQLiteCreditLedgerRepository(db), testLogger())
	_, err = ledger.Deduct(context.Background(), "user-1", 1, "test")
	if err == nil || errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want wrapped storage error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
