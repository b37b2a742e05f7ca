package models

import "time"

// ========================================
// Credit Transactions
// ========================================

// CreditTransactionType defines the type of credit transaction.
type CreditTransactionType string

const (
	TxTypePurchase CreditTransactionType = "purchase" // Paid credit pack
	TxTypeUsage    CreditTransactionType = "usage"    // Indexing submission deduction
	TxTypeRefund   CreditTransactionType = "refund"   // Credits returned to the user
	TxTypeBonus    CreditTransactionType = "bonus"    // Signup or goodwill credits
)

// CreditTransaction is one row of the append-only credit ledger.
type CreditTransaction struct {
	ID              string                `json:"id"`
	UserID          string                `json:"user_id"`
	Type            CreditTransactionType `json:"type"`
	Amount          int64                 `json:"amount"`        // Positive=credit, Negative=debit
	BalanceAfter    int64                 `json:"balance_after"` // Balance after this transaction
	Description     string                `json:"description"`
	ExternalOrderID *string               `json:"external_order_id,omitempty"` // UNIQUE - prevents double-credit
	CreatedAt       time.Time             `json:"created_at"`
}

// ========================================
// Daily Quota
// ========================================

// QuotaBucket names a quota-limited operation.
type QuotaBucket string

const (
	QuotaSubmissions QuotaBucket = "submissions"
	QuotaInspections QuotaBucket = "inspections"
)

// QuotaUsage is a user's counters for one calendar day. A missing row is
// equivalent to zero usage.
type QuotaUsage struct {
	UserID      string `json:"user_id"`
	Day         string `json:"day"` // YYYY-MM-DD, UTC
	Submissions int    `json:"submissions"`
	Inspections int    `json:"inspections"`
}

// Used returns the counter for a bucket.
func (q QuotaUsage) Used(bucket QuotaBucket) int {
	switch bucket {
	case QuotaInspections:
		return q.Inspections
	default:
		return q.Submissions
	}
}
