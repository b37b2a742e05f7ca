package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/constants"
	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// SignupOrderID is the external order id used to make the signup bonus
// idempotent per user.
func SignupOrderID(userID string) string {
	return "signup:" + userID
}

// DeductResult is the outcome of a successful deduction.
type DeductResult struct {
	Transaction         *models.CreditTransaction
	Balance             int64
	CrossedLowThreshold bool
}

// LedgerService handles credit purchases, bonuses and usage charges.
// The balance is always derived from the ledger; there is no cached copy.
type LedgerService struct {
	repo   repository.CreditLedgerRepository
	logger *slog.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(repo repository.CreditLedgerRepository, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		repo:   repo,
		logger: logger.With("component", "ledger"),
	}
}

// Balance returns the user's current credit balance.
func (s *LedgerService) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.repo.Balance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Add credits the user. A non-nil orderID makes the call idempotent:
// a second call with the same id returns ErrDuplicateEvent and leaves the
// balance unchanged.
func (s *LedgerService) Add(ctx context.Context, userID string, amount int64, txType models.CreditTransactionType, description string, orderID *string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.repo.Append(ctx, repository.LedgerEntry{
		UserID:          userID,
		Type:            txType,
		Amount:          amount,
		Description:     description,
		ExternalOrderID: orderID,
	})
	if errors.Is(err, repository.ErrLedgerDuplicateOrder) {
		s.logger.Info("duplicate credit event ignored", "user_id", userID, "order_id", *orderID)
		return tx, ErrDuplicateEvent
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add credits: %w", err)
	}

	s.logger.Info("credits added",
		"user_id", userID,
		"type", txType,
		"amount", amount,
		"balance", tx.BalanceAfter,
	)
	return tx, nil
}

// ResolvePack decides which pack a checkout bought. An explicit, known pack
// id wins. Otherwise the pack is inferred from the raw credit amount and
// inferred is true so the caller can log it.
func ResolvePack(packID string, credits int64) (id constants.CreditPackID, amount int64, inferred bool, err error) {
	if packID != "" {
		if id, pack, ok := constants.LookupCreditPack(packID); ok {
			return id, pack.Credits, false, nil
		}
	}
	if credits <= 0 {
		return "", 0, false, ErrUnknownPack
	}
	return constants.InferCreditPack(credits), credits, true, nil
}

// Purchase records a paid credit pack. The payment provider's order id
// guards against double-crediting on webhook redelivery.
func (s *LedgerService) Purchase(ctx context.Context, userID, packID string, credits int64, orderID string) (*models.CreditTransaction, error) {
	id, amount, inferred, err := ResolvePack(packID, credits)
	if err != nil {
		return nil, err
	}
	if inferred {
		s.logger.Warn("credit pack inferred from amount",
			"user_id", userID,
			"order_id", orderID,
			"metadata_pack", packID,
			"credits", credits,
			"inferred_pack", id,
		)
	}

	display := string(id)
	if pack, ok := constants.CreditPacks[id]; ok {
		display = pack.DisplayName
	}
	return s.Add(ctx, userID, amount, models.TxTypePurchase,
		fmt.Sprintf("%s pack - %d credits", display, amount), &orderID)
}

// GrantSignupBonus gives a new user their welcome credits exactly once.
func (s *LedgerService) GrantSignupBonus(ctx context.Context, userID string, amount int64) (*models.CreditTransaction, error) {
	orderID := SignupOrderID(userID)
	return s.Add(ctx, userID, amount, models.TxTypeBonus, "Signup bonus", &orderID)
}

// Refund returns credits to a user, for example after an operator review.
func (s *LedgerService) Refund(ctx context.Context, userID string, amount int64, description string) (*models.CreditTransaction, error) {
	if description == "" {
		description = "Refund"
	}
	return s.Add(ctx, userID, amount, models.TxTypeRefund, description, nil)
}

// Deduct charges the user. The balance check and the debit are one atomic
// write, so concurrent deductions can never drive the balance negative.
// CrossedLowThreshold is set when this debit took the balance from at or
// above the low-credit threshold to below it.
func (s *LedgerService) Deduct(ctx context.Context, userID string, amount int64, description string) (*DeductResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.repo.Append(ctx, repository.LedgerEntry{
		UserID:      userID,
		Type:        models.TxTypeUsage,
		Amount:      -amount,
		Description: description,
	})
	if errors.Is(err, repository.ErrLedgerInsufficient) {
		return nil, ErrInsufficientCredits
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deduct credits: %w", err)
	}

	before := tx.BalanceAfter + amount
	return &DeductResult{
		Transaction:         tx,
		Balance:             tx.BalanceAfter,
		CrossedLowThreshold: before >= constants.LowCreditThreshold && tx.BalanceAfter < constants.LowCreditThreshold,
	}, nil
}

// Transactions returns the user's ledger, newest first.
func (s *LedgerService) Transactions(ctx context.Context, userID string, limit, offset int) ([]*models.CreditTransaction, error) {
	return s.repo.GetByUserID(ctx, userID, limit, offset)
}

// UsageSince returns the credits the user spent since the given time.
func (s *LedgerService) UsageSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return s.repo.UsageSince(ctx, userID, since)
}
