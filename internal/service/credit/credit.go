package credit

import (
	"context"
	"fmt"

	"github.com/ayilmaz/creditd/internal/apperrors"
	"github.com/ayilmaz/creditd/internal/cache"
	"github.com/ayilmaz/creditd/internal/logger"
	"github.com/ayilmaz/creditd/internal/models"
	"github.com/ayilmaz/creditd/internal/repository"
)

// CreditService owns every non-webhook ledger mutation: spends from
// the marketplace backend and operator-granted bonuses.
type CreditService struct {
	storage repository.Storage
	cache   *cache.BalanceCache
	logger  logger.Logger
}

func NewService(storage repository.Storage, balanceCache *cache.BalanceCache, l logger.Logger) *CreditService {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &CreditService{
		storage: storage,
		cache:   balanceCache,
		logger:  l,
	}
}

// Spend debits credits for marketplace usage (contact unlock etc).
// Returns apperrors.ErrBalanceInsufficient when the user can't afford it.
func (s *CreditService) Spend(ctx context.Context, userID int64, amount int64, description string) (models.Transaction, error) {
	return s.append(ctx, repository.AppendParams{
		UserID:      userID,
		Kind:        models.TransactionKindUsage,
		Amount:      amount,
		Description: description,
	})
}

// Grant credits the user outside of a payment (signup bonus, goodwill)
func (s *CreditService) Grant(ctx context.Context, userID int64, amount int64, description string) (models.Transaction, error) {
	return s.append(ctx, repository.AppendParams{
		UserID:      userID,
		Kind:        models.TransactionKindBonus,
		Amount:      amount,
		Description: description,
	})
}

func (s *CreditService) append(ctx context.Context, params repository.AppendParams) (models.Transaction, error) {
	var t models.Transaction

	if params.Amount <= 0 {
		return t, apperrors.ErrAmountInvalid
	}

	t, err := s.storage.Ledger().Append(ctx, params)
	if err != nil {
		return t, fmt.Errorf("can't append %s entry. Err: %w", params.Kind, err)
	}

	if err := s.cache.Invalidate(ctx, params.UserID); err != nil {
		// Stale for at most one TTL, the db projection is already correct
		s.logger.Warn("Failed to invalidate balance cache", "user_id", params.UserID, "error", err)
	}

	return t, nil
}

func (s *CreditService) GetBalance(ctx context.Context, userID int64) (models.Balance, error) {
	if current, ok := s.cache.Get(ctx, userID); ok {
		return models.Balance{UserID: userID, Current: current}, nil
	}

	balance, err := s.storage.Ledger().GetBalance(ctx, userID)
	if err != nil {
		return balance, err
	}

	s.cache.Set(ctx, userID, balance.Current)
	return balance, nil
}

func (s *CreditService) ListTransactions(ctx context.Context, userID int64, kinds []string) ([]models.Transaction, error) {
	return s.storage.Ledger().ListTransactions(ctx, userID, kinds)
}

// RecomputeBalance rebuilds the projection from the ledger
func (s *CreditService) RecomputeBalance(ctx context.Context, userID int64) (models.Balance, error) {
	balance, err := s.storage.Ledger().RecomputeBalance(ctx, userID)
	if err != nil {
		return balance, err
	}

	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("Failed to invalidate balance cache", "user_id", userID, "error", err)
	}

	return balance, nil
}
