package payment

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/ayilmaz/creditd/internal/apperrors"
	"github.com/ayilmaz/creditd/internal/models"
	"github.com/ayilmaz/creditd/internal/repository"
	"github.com/ayilmaz/creditd/internal/repository/postgres"
	"github.com/ayilmaz/creditd/internal/signature"
	"github.com/ayilmaz/creditd/internal/testutil"
)

const testSecret = "webhook-secret"

func signedBody(t *testing.T, event models.WebhookEvent) (body []byte, header string) {
	t.Helper()

	body, err := json.Marshal(event)
	require.NoError(t, err)

	return body, signature.Compute(body, testSecret)
}

func TestProcessor(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withTx := func(t *testing.T, cfg Config, fn func(p *Processor, storage repository.Storage)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			fn(NewProcessor(cfg, storage, nil, nil), storage)
		})
	}

	success := models.WebhookEvent{
		Event:     models.EventPaymentSucceeded,
		PaymentID: "pay-1",
		Status:    "success",
		Amount:    50000,
		Currency:  models.CurrencyTRY,
		UserID:    1,
		Timestamp: 1735689600,
	}

	t.Run("signature", func(t *testing.T) {
		t.Run("tampered body rejected without mutation", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				body, header := signedBody(t, success)
				tampered := append([]byte{}, body...)
				tampered[len(tampered)-2]++

				_, err := p.Process(t.Context(), tampered, header, "")

				require.ErrorIs(t, err, apperrors.ErrSignatureInvalid)

				_, err = storage.Ledger().GetBalance(t.Context(), 1)
				require.ErrorIs(t, err, apperrors.ErrUserNotFound, "rejected delivery must not touch the store")
			})
		})

		t.Run("missing header rejected", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				body, _ := signedBody(t, success)

				_, err := p.Process(t.Context(), body, "", "")

				require.ErrorIs(t, err, apperrors.ErrSignatureInvalid)
			})
		})

		t.Run("no secret configured skips verification", func(t *testing.T) {
			withTx(t, Config{}, func(p *Processor, storage repository.Storage) {
				body, _ := signedBody(t, success)

				result, err := p.Process(t.Context(), body, "", "")

				require.NoError(t, err, "dev escape hatch: unverified payload accepted")
				require.Equal(t, OutcomeApplied, result.Outcome)
			})
		})
	})

	t.Run("ip allowlist", func(t *testing.T) {
		cfg := Config{WebhookSecret: testSecret, AllowedIPs: []string{"10.0.0.1"}}

		t.Run("allowed ip passes", func(t *testing.T) {
			withTx(t, cfg, func(p *Processor, storage repository.Storage) {
				body, header := signedBody(t, success)

				_, err := p.Process(t.Context(), body, header, "10.0.0.1")

				require.NoError(t, err)
			})
		})

		t.Run("unknown ip rejected", func(t *testing.T) {
			withTx(t, cfg, func(p *Processor, storage repository.Storage) {
				body, header := signedBody(t, success)

				_, err := p.Process(t.Context(), body, header, "192.0.2.7")

				require.ErrorIs(t, err, apperrors.ErrSourceIPDenied)
			})
		})
	})

	t.Run("validation", func(t *testing.T) {
		t.Run("not json", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				body := []byte("definitely not json")

				_, err := p.Process(t.Context(), body, signature.Compute(body, testSecret), "")

				require.ErrorIs(t, err, apperrors.ErrPayloadInvalid)
			})
		})

		t.Run("unknown event kind", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				event := success
				event.Event = "payment.mystery"
				body, header := signedBody(t, event)

				_, err := p.Process(t.Context(), body, header, "")

				require.ErrorIs(t, err, apperrors.ErrPayloadInvalid)
			})
		})

		t.Run("success without user id", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				event := success
				event.UserID = 0
				body, header := signedBody(t, event)

				_, err := p.Process(t.Context(), body, header, "")

				require.ErrorIs(t, err, apperrors.ErrPayloadInvalid)
			})
		})

		t.Run("unsupported currency", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				event := success
				event.Currency = "GBP"
				body, header := signedBody(t, event)

				_, err := p.Process(t.Context(), body, header, "")

				require.ErrorIs(t, err, apperrors.ErrPayloadInvalid)
			})
		})
	})

	t.Run("payment success", func(t *testing.T) {
		t.Run("applied once, redelivered N times", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				body, header := signedBody(t, success)

				result, err := p.Process(t.Context(), body, header, "")
				require.NoError(t, err)
				require.Equal(t, OutcomeApplied, result.Outcome)
				require.Equal(t, "pay-1", result.PaymentID)

				for range 3 {
					result, err := p.Process(t.Context(), body, header, "")
					require.NoError(t, err, "redelivery must succeed")
					require.Equal(t, OutcomeAlreadyApplied, result.Outcome)
				}

				balance, err := storage.Ledger().GetBalance(t.Context(), 1)
				require.NoError(t, err)
				require.Equal(t, int64(50000), balance.Current, "exactly one credit for N deliveries")

				entries, err := storage.Ledger().ListTransactions(t.Context(), 1, nil)
				require.NoError(t, err)
				require.Len(t, entries, 1, "exactly one ledger row for N deliveries")
			})
		})
	})

	t.Run("payment refund", func(t *testing.T) {
		t.Run("partial refund", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				body, header := signedBody(t, success)
				_, err := p.Process(t.Context(), body, header, "")
				require.NoError(t, err)

				refund := success
				refund.Event = models.EventPaymentRefunded
				refund.Amount = 30000
				body, header = signedBody(t, refund)

				result, err := p.Process(t.Context(), body, header, "")
				require.NoError(t, err)
				require.Equal(t, OutcomeApplied, result.Outcome)

				balance, err := storage.Ledger().GetBalance(t.Context(), 1)
				require.NoError(t, err)
				require.Equal(t, int64(20000), balance.Current)

				entries, err := storage.Ledger().ListTransactions(t.Context(), 1, []string{models.TransactionKindRefund})
				require.NoError(t, err)
				require.Len(t, entries, 1)
				require.Equal(t, int64(50000), entries[0].BalanceBefore)
				require.Equal(t, int64(20000), entries[0].BalanceAfter)
			})
		})

		t.Run("refund over balance clamps at zero", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				purchase := success
				purchase.Amount = 10000
				body, header := signedBody(t, purchase)
				_, err := p.Process(t.Context(), body, header, "")
				require.NoError(t, err)

				refund := success
				refund.Event = models.EventPaymentRefunded
				refund.Amount = 30000
				body, header = signedBody(t, refund)

				result, err := p.Process(t.Context(), body, header, "")
				require.NoError(t, err)
				require.Equal(t, OutcomeApplied, result.Outcome)

				balance, err := storage.Ledger().GetBalance(t.Context(), 1)
				require.NoError(t, err)
				require.Equal(t, int64(0), balance.Current, "balance clamps at zero, never negative")

				entries, err := storage.Ledger().ListTransactions(t.Context(), 1, []string{models.TransactionKindRefund})
				require.NoError(t, err)
				require.Len(t, entries, 1)
				require.Equal(t, int64(10000), entries[0].Amount, "ledger entry records the clamped delta")
			})
		})

		t.Run("refund with no prior balance clamps to zero", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				refund := success
				refund.Event = models.EventPaymentRefunded
				refund.Amount = 30000
				body, header := signedBody(t, refund)

				result, err := p.Process(t.Context(), body, header, "")

				require.NoError(t, err, "refund for a user the ledger never saw must not hard-fail")
				require.Equal(t, OutcomeApplied, result.Outcome)

				balance, err := storage.Ledger().GetBalance(t.Context(), 1)
				require.NoError(t, err)
				require.Equal(t, int64(0), balance.Current)

				entries, err := storage.Ledger().ListTransactions(t.Context(), 1, nil)
				require.NoError(t, err)
				require.Len(t, entries, 1, "the zero-amount entry still marks the dedup key")
				require.Equal(t, int64(0), entries[0].Amount)
			})
		})

		t.Run("refund is idempotent", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				body, header := signedBody(t, success)
				_, err := p.Process(t.Context(), body, header, "")
				require.NoError(t, err)

				refund := success
				refund.Event = models.EventPaymentRefunded
				refund.Amount = 30000
				body, header = signedBody(t, refund)

				_, err = p.Process(t.Context(), body, header, "")
				require.NoError(t, err)

				result, err := p.Process(t.Context(), body, header, "")
				require.NoError(t, err)
				require.Equal(t, OutcomeAlreadyApplied, result.Outcome)

				balance, err := storage.Ledger().GetBalance(t.Context(), 1)
				require.NoError(t, err)
				require.Equal(t, int64(20000), balance.Current)
			})
		})
	})

	t.Run("payment failed", func(t *testing.T) {
		t.Run("recorded without balance mutation", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				failed := success
				failed.Event = models.EventPaymentFailed
				failed.Status = "failure"
				body, header := signedBody(t, failed)

				result, err := p.Process(t.Context(), body, header, "")
				require.NoError(t, err)
				require.Equal(t, OutcomeFailureRecorded, result.Outcome)

				_, err = storage.Ledger().GetBalance(t.Context(), 1)
				require.ErrorIs(t, err, apperrors.ErrUserNotFound, "failed payment must not create a balance")
			})
		})

		t.Run("accepted without user id", func(t *testing.T) {
			withTx(t, Config{WebhookSecret: testSecret}, func(p *Processor, storage repository.Storage) {
				failed := success
				failed.Event = models.EventPaymentFailed
				failed.UserID = 0
				body, header := signedBody(t, failed)

				result, err := p.Process(t.Context(), body, header, "")

				require.NoError(t, err, "failure events may arrive without a resolved user")
				require.Equal(t, OutcomeFailureRecorded, result.Outcome)
			})
		})
	})
}

// Concurrent deliveries run against the pool directly: serialization
// happens via row locks in the store, not in process memory.
func TestProcessor_Concurrent(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	storage := postgres.NewStorage(pg.Pool)
	p := NewProcessor(Config{WebhookSecret: testSecret}, storage, nil, nil)

	t.Run("duplicate deliveries credit once", func(t *testing.T) {
		event := models.WebhookEvent{
			Event:     models.EventPaymentSucceeded,
			PaymentID: "pay-concurrent",
			Status:    "success",
			Amount:    50000,
			Currency:  models.CurrencyTRY,
			UserID:    100,
			Timestamp: 1735689600,
		}
		body, header := signedBody(t, event)

		var wg sync.WaitGroup
		results := make([]string, 8)
		errs := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := p.Process(t.Context(), body, header, "")
				results[i], errs[i] = result.Outcome, err
			}()
		}
		wg.Wait()

		applied := 0
		for i, outcome := range results {
			require.NoError(t, errs[i])
			if outcome == OutcomeApplied {
				applied++
			}
		}
		require.Equal(t, 1, applied, "exactly one delivery wins, the rest are duplicates")

		balance, err := storage.Ledger().GetBalance(t.Context(), 100)
		require.NoError(t, err)
		require.Equal(t, int64(50000), balance.Current)
	})

	t.Run("different users do not interfere", func(t *testing.T) {
		users := []int64{201, 202}

		var wg sync.WaitGroup
		errs := make([]error, len(users))
		for i, userID := range users {
			wg.Add(1)
			go func() {
				defer wg.Done()
				event := models.WebhookEvent{
					Event:     models.EventPaymentSucceeded,
					PaymentID: fmt.Sprintf("pay-user-%d", userID),
					Status:    "success",
					Amount:    10000 * userID,
					Currency:  models.CurrencyTRY,
					UserID:    userID,
					Timestamp: 1735689600,
				}
				body, header := signedBody(t, event)

				_, errs[i] = p.Process(t.Context(), body, header, "")
			}()
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}

		for _, userID := range users {
			balance, err := storage.Ledger().GetBalance(t.Context(), userID)
			require.NoError(t, err)
			require.Equal(t, 10000*userID, balance.Current, "each user gets exactly their own credit")
		}
	})
}
