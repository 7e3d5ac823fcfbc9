package models

import (
	"time"
)

// Ledger transaction kinds
// Purchase and bonus add credits, refund and usage subtract them
const (
	TransactionKindPurchase = "purchase"
	TransactionKindRefund   = "refund"
	TransactionKindUsage    = "usage"
	TransactionKindBonus    = "bonus"
)

// SignOf returns +1 for crediting kinds and -1 for debiting kinds
func SignOf(kind string) int64 {
	switch kind {
	case TransactionKindRefund, TransactionKindUsage:
		return -1
	default:
		return 1
	}
}

// Balance is the per-user credit projection.
// It is always derivable from the transactions ledger and never
// updated outside of a ledger append.
type Balance struct {
	UserID    int64
	Current   int64
	UpdatedAt time.Time
}

// Transaction is a single immutable ledger entry.
// Amount is the magnitude in the smallest currency unit; the kind
// decides the sign. BalanceAfter = BalanceBefore + SignOf(kind)*Amount.
type Transaction struct {
	ID            int64
	UserID        int64
	Kind          string
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Description   string
	PaymentID     string // empty for entries not driven by a gateway payment
	CreatedAt     time.Time
}

// PaymentFailure is an audit record for failed gateway payments.
// Kept out of the ledger so a later successful retry of the same
// paymentId is not blocked by the dedup constraint.
type PaymentFailure struct {
	ID        int64
	PaymentID string
	UserID    int64 // 0 when the gateway could not resolve a user
	Amount    int64
	Reason    string
	CreatedAt time.Time
}
