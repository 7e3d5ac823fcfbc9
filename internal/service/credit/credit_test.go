package credit

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/ayilmaz/creditd/internal/apperrors"
	"github.com/ayilmaz/creditd/internal/models"
	"github.com/ayilmaz/creditd/internal/repository"
	"github.com/ayilmaz/creditd/internal/repository/postgres"
	"github.com/ayilmaz/creditd/internal/testutil"
)

func TestCredit(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withTx := func(t *testing.T, fn func(s *CreditService, storage repository.Storage)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			fn(NewService(storage, nil, nil), storage)
		})
	}

	seed := func(t *testing.T, storage repository.Storage, userID int64, amount int64) {
		t.Helper()
		_, err := storage.Ledger().Append(t.Context(), repository.AppendParams{
			UserID: userID, Kind: models.TransactionKindPurchase, Amount: amount, PaymentID: "seed-pay",
		})
		require.NoError(t, err)
	}

	t.Run("Spend", func(t *testing.T) {
		t.Run("debits balance", func(t *testing.T) {
			withTx(t, func(s *CreditService, storage repository.Storage) {
				seed(t, storage, 1, 1000)

				got, err := s.Spend(t.Context(), 1, 300, "contact unlock")

				require.NoError(t, err)
				require.Equal(t, models.TransactionKindUsage, got.Kind)
				require.Equal(t, int64(1000), got.BalanceBefore)
				require.Equal(t, int64(700), got.BalanceAfter)
				require.Empty(t, got.PaymentID, "spends are not tied to a gateway payment")
			})
		})

		t.Run("insufficient balance", func(t *testing.T) {
			withTx(t, func(s *CreditService, storage repository.Storage) {
				seed(t, storage, 1, 100)

				_, err := s.Spend(t.Context(), 1, 300, "contact unlock")

				require.ErrorIs(t, err, apperrors.ErrBalanceInsufficient)

				balance, err := s.GetBalance(t.Context(), 1)
				require.NoError(t, err)
				require.Equal(t, int64(100), balance.Current, "failed spend must not move the balance")
			})
		})

		t.Run("invalid amount", func(t *testing.T) {
			withTx(t, func(s *CreditService, storage repository.Storage) {
				_, err := s.Spend(t.Context(), 1, 0, "nothing")
				require.ErrorIs(t, err, apperrors.ErrAmountInvalid)

				_, err = s.Spend(t.Context(), 1, -5, "negative")
				require.ErrorIs(t, err, apperrors.ErrAmountInvalid)
			})
		})
	})

	t.Run("Grant", func(t *testing.T) {
		withTx(t, func(s *CreditService, storage repository.Storage) {
			got, err := s.Grant(t.Context(), 2, 500, "signup bonus")

			require.NoError(t, err)
			require.Equal(t, models.TransactionKindBonus, got.Kind)
			require.Equal(t, int64(500), got.BalanceAfter, "grant creates the balance on first touch")
		})
	})

	t.Run("GetBalance unknown user", func(t *testing.T) {
		withTx(t, func(s *CreditService, storage repository.Storage) {
			_, err := s.GetBalance(t.Context(), 424242)

			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("ListTransactions", func(t *testing.T) {
		withTx(t, func(s *CreditService, storage repository.Storage) {
			seed(t, storage, 3, 1000)
			_, err := s.Spend(t.Context(), 3, 100, "contact unlock")
			require.NoError(t, err)

			all, err := s.ListTransactions(t.Context(), 3, nil)
			require.NoError(t, err)
			require.Len(t, all, 2)

			usage, err := s.ListTransactions(t.Context(), 3, []string{models.TransactionKindUsage})
			require.NoError(t, err)
			require.Len(t, usage, 1)
		})
	})

	t.Run("RecomputeBalance", func(t *testing.T) {
		withTx(t, func(s *CreditService, storage repository.Storage) {
			seed(t, storage, 4, 1000)
			_, err := s.Spend(t.Context(), 4, 250, "contact unlock")
			require.NoError(t, err)

			balance, err := s.RecomputeBalance(t.Context(), 4)

			require.NoError(t, err)
			require.Equal(t, int64(750), balance.Current)
		})
	})
}
