package handlers

import (
	"context"

	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/service"
)

// CreditReader reads a user's credit ledger.
type CreditReader interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Transactions(ctx context.Context, userID string, limit, offset int) ([]*models.CreditTransaction, error)
}

// QuotaReader reads a user's daily API quota.
type QuotaReader interface {
	Status(ctx context.Context, userID string) (*service.QuotaStatus, error)
}

// AccountHandler handles credit and quota endpoints.
type AccountHandler struct {
	ledger CreditReader
	quota  QuotaReader
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(ledger CreditReader, quota QuotaReader) *AccountHandler {
	return &AccountHandler{ledger: ledger, quota: quota}
}

// BalanceOutput is the user's credit balance.
type BalanceOutput struct {
	Body struct {
		Balance int64 `json:"balance" doc:"Credits available"`
	}
}

// GetBalance returns the user's credit balance.
func (h *AccountHandler) GetBalance(ctx context.Context, input *struct{}) (*BalanceOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := h.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, toHumaError(err, "get balance")
	}
	out := &BalanceOutput{}
	out.Body.Balance = balance
	return out, nil
}

// ListTransactionsInput pages through the ledger.
type ListTransactionsInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"200"`
	Offset int `query:"offset" default:"0" minimum:"0"`
}

// ListTransactionsOutput represents a page of ledger entries.
type ListTransactionsOutput struct {
	Body struct {
		Transactions []*models.CreditTransaction `json:"transactions"`
	}
}

// ListTransactions returns ledger entries, newest first.
func (h *AccountHandler) ListTransactions(ctx context.Context, input *ListTransactionsInput) (*ListTransactionsOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := h.ledger.Transactions(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, toHumaError(err, "list transactions")
	}
	out := &ListTransactionsOutput{}
	out.Body.Transactions = nonNil(txs)
	return out, nil
}

// QuotaOutput is today's quota position.
type QuotaOutput struct {
	Body *service.QuotaStatus
}

// GetQuota returns today's submission and inspection usage.
func (h *AccountHandler) GetQuota(ctx context.Context, input *struct{}) (*QuotaOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	status, err := h.quota.Status(ctx, userID)
	if err != nil {
		return nil, toHumaError(err, "get quota")
	}
	return &QuotaOutput{Body: status}, nil
}
