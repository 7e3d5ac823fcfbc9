package repository

import (
	"context"

	"github.com/ayilmaz/creditd/internal/models"
)

// AppendParams describes a single ledger append.
// Amount is a magnitude; Kind decides whether it credits or debits.
type AppendParams struct {
	UserID      int64
	Kind        string
	Amount      int64
	Description string
	PaymentID   string // empty for entries not tied to a gateway payment
}

// FailureParams describes a failed-payment audit record
type FailureParams struct {
	PaymentID string
	UserID    int64
	Amount    int64
	Reason    string
}

// Ledger repository interface
type LedgerRepo interface {
	// Append writes one ledger entry and moves the user's balance,
	// atomically and serialized per user.
	// If an entry for (PaymentID, Kind) already exists must return
	// apperrors.ErrPaymentAlreadyApplied and change nothing.
	// If the entry would drive the balance negative must return
	// apperrors.ErrBalanceInsufficient and change nothing.
	Append(ctx context.Context, params AppendParams) (models.Transaction, error)

	// Get the user's current balance projection
	// If the user has no balance row must return apperrors.ErrUserNotFound
	GetBalance(ctx context.Context, userID int64) (models.Balance, error)

	// List ledger entries for the user in insert order, newest first.
	// Kinds filters by transaction kind; nil means all kinds.
	ListTransactions(ctx context.Context, userID int64, kinds []string) ([]models.Transaction, error)

	// RecomputeBalance rebuilds the balance projection by replaying
	// the user's ledger and returns the recomputed value
	RecomputeBalance(ctx context.Context, userID int64) (models.Balance, error)

	// RecordFailure stores a failed-payment audit record.
	// Duplicate deliveries for the same payment are silently ignored.
	RecordFailure(ctx context.Context, params FailureParams) error

	// ListFailures returns failed-payment records, newest first,
	// at most limit of them
	ListFailures(ctx context.Context, limit int32) ([]models.PaymentFailure, error)
}

// Storage aggregates repositories and runs them in transactions
type Storage interface {
	Ledger() LedgerRepo

	// InTx runs fn with a Storage bound to a single db transaction.
	// The transaction commits if fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Storage) error) error
}
