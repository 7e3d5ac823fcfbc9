package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ayilmaz/creditd/internal/apperrors"
	"github.com/ayilmaz/creditd/internal/models"
	"github.com/ayilmaz/creditd/internal/repository"
)

type LedgerRepo struct {
	DB DBTX
}

// Lock the user's balance row, creating it on first touch.
// FOR UPDATE serializes appends per user while other users proceed.
const lockBalance = `-- name: LockBalance
SELECT current FROM balances
WHERE user_id = $1
FOR UPDATE
`

const ensureBalance = `-- name: EnsureBalance
INSERT INTO balances (user_id)
VALUES ($1)
ON CONFLICT (user_id) DO NOTHING
`

// Conditional insert is the idempotency guard: a duplicate
// (payment_id, kind) hits the partial unique index and returns no row
const insertTransaction = `-- name: InsertTransaction
INSERT INTO credit_transactions (user_id, kind, amount, balance_before, balance_after, description, payment_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT DO NOTHING
RETURNING id, user_id, kind, amount, balance_before, balance_after, description, COALESCE(payment_id, ''), created_at
`

const updateBalance = `-- name: UpdateBalance
UPDATE balances
SET current = $2, updated_at = now()
WHERE user_id = $1
`

// Append writes the ledger entry and moves the balance as one db
// transaction. Runs as a nested transaction (savepoint) when the repo
// is already inside one.
func (r *LedgerRepo) Append(ctx context.Context, params repository.AppendParams) (models.Transaction, error) {
	var t models.Transaction

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return t, fmt.Errorf("db tx error: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, ensureBalance, params.UserID); err != nil {
		return t, fmt.Errorf("db error: %w", err)
	}

	var before int64
	if err := tx.QueryRow(ctx, lockBalance, params.UserID).Scan(&before); err != nil {
		return t, fmt.Errorf("db error: %w", err)
	}

	after := before + models.SignOf(params.Kind)*params.Amount
	if after < 0 {
		return t, apperrors.ErrBalanceInsufficient
	}

	var paymentID any
	if params.PaymentID != "" {
		paymentID = params.PaymentID
	}

	rows, _ := tx.Query(ctx, insertTransaction,
		params.UserID, params.Kind, params.Amount, before, after, params.Description, paymentID)
	t, err = pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Conflict on (payment_id, kind): this payment is already in the ledger
		return t, apperrors.ErrPaymentAlreadyApplied
	case err != nil:
		return t, fmt.Errorf("db error: %w", err)
	}

	if _, err := tx.Exec(ctx, updateBalance, params.UserID, after); err != nil {
		return t, fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return t, fmt.Errorf("db tx error: %w", err)
	}

	return t, nil
}

const getBalance = `-- name: GetBalance
SELECT user_id, current, updated_at FROM balances
WHERE user_id = $1
`

func (r *LedgerRepo) GetBalance(ctx context.Context, userID int64) (models.Balance, error) {
	var b models.Balance
	err := r.DB.QueryRow(ctx, getBalance, userID).Scan(&b.UserID, &b.Current, &b.UpdatedAt)

	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, pgx.ErrNoRows):
		return b, apperrors.ErrUserNotFound
	default:
		return b, fmt.Errorf("db error: %w", err)
	}
}

const listTransactions = `-- name: ListTransactions
SELECT id, user_id, kind, amount, balance_before, balance_after, description, COALESCE(payment_id, ''), created_at
FROM credit_transactions
WHERE user_id = $1 AND ($2::text[] IS NULL OR kind = ANY($2))
ORDER BY id DESC
`

func (r *LedgerRepo) ListTransactions(ctx context.Context, userID int64, kinds []string) ([]models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, listTransactions, userID, kinds)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

// Replay the ledger into the projection.
// The balance row stays locked while the sum runs, so concurrent
// appends cannot slip between the fold and the update.
const foldLedger = `-- name: FoldLedger
SELECT COALESCE(SUM(CASE WHEN kind IN ('refund', 'usage') THEN -amount ELSE amount END), 0)
FROM credit_transactions
WHERE user_id = $1
`

func (r *LedgerRepo) RecomputeBalance(ctx context.Context, userID int64) (models.Balance, error) {
	var b models.Balance

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return b, fmt.Errorf("db tx error: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current int64
	err = tx.QueryRow(ctx, lockBalance, userID).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return b, apperrors.ErrUserNotFound
	case err != nil:
		return b, fmt.Errorf("db error: %w", err)
	}

	var replayed int64
	if err := tx.QueryRow(ctx, foldLedger, userID).Scan(&replayed); err != nil {
		return b, fmt.Errorf("db error: %w", err)
	}

	if _, err := tx.Exec(ctx, updateBalance, userID, replayed); err != nil {
		return b, fmt.Errorf("db error: %w", err)
	}

	err = tx.QueryRow(ctx, getBalance, userID).Scan(&b.UserID, &b.Current, &b.UpdatedAt)
	if err != nil {
		return b, fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return b, fmt.Errorf("db tx error: %w", err)
	}

	return b, nil
}

const insertFailure = `-- name: InsertFailure
INSERT INTO payment_failures (payment_id, user_id, amount, reason)
VALUES ($1, $2, $3, $4)
`

func (r *LedgerRepo) RecordFailure(ctx context.Context, params repository.FailureParams) error {
	var userID any
	if params.UserID != 0 {
		userID = params.UserID
	}

	// Own (possibly nested) transaction: the unique violation on a
	// redelivery must not poison the caller's transaction
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertFailure, params.PaymentID, userID, params.Amount, params.Reason)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// Redelivered failure notification, already on record
			return nil
		}

		return fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	return nil
}

const listFailures = `-- name: ListFailures
SELECT id, payment_id, COALESCE(user_id, 0), amount, reason, created_at
FROM payment_failures
ORDER BY id DESC
LIMIT $1
`

func (r *LedgerRepo) ListFailures(ctx context.Context, limit int32) ([]models.PaymentFailure, error) {
	rows, _ := r.DB.Query(ctx, listFailures, limit)
	failures, err := pgx.CollectRows(rows, rowToFailure)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return failures, nil
}

func rowToFailure(row pgx.CollectableRow) (models.PaymentFailure, error) {
	var f models.PaymentFailure
	err := row.Scan(&f.ID, &f.PaymentID, &f.UserID, &f.Amount, &f.Reason, &f.CreatedAt)
	return f, err
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.Description, &t.PaymentID, &t.CreatedAt)
	return t, err
}
