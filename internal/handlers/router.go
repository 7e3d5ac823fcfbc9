package handlers

import (
	"context"
	"net/http"

	"github.com/ayilmaz/creditd/internal/handlers/middleware"
	"github.com/ayilmaz/creditd/internal/logger"
	"github.com/ayilmaz/creditd/internal/models"
	"github.com/ayilmaz/creditd/internal/service/gateway"
	"github.com/ayilmaz/creditd/internal/service/payment"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	processor webhookProcessor,
	creditService creditService,
	checkoutClient checkoutClient,
	serviceTokenSecret string,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.AuthMiddleware(serviceTokenSecret)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}

	api := http.NewServeMux()

	// Authenticated by body signature inside the processor, not by token
	api.Handle("POST /payments/webhook", handleWebhook(processor, logger))

	api.Handle("POST /payments/checkout", withAuth(handleCheckout(checkoutClient, logger)))
	api.Handle("GET /payments/failures", withAuth(handleListFailures(processor, logger)))

	api.Handle("GET /users/{userID}/balance", withAuth(handleGetBalance(creditService, logger)))
	api.Handle("POST /users/{userID}/balance/recompute", withAuth(handleRecomputeBalance(creditService, logger)))
	api.Handle("GET /users/{userID}/transactions", withAuth(handleListTransactions(creditService, logger)))
	api.Handle("POST /users/{userID}/credits/spend", withAuth(handleSpend(creditService, logger)))
	api.Handle("POST /users/{userID}/credits/grant", withAuth(handleGrant(creditService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type webhookProcessor interface {
	// Process one webhook delivery: verify, validate, apply exactly once.
	// Rejections come back as apperrors sentinels, anything else is a
	// retriable store failure.
	Process(ctx context.Context, rawBody []byte, signatureHeader string, sourceIP string) (payment.Result, error)

	// List recent failed-payment audit records, newest first
	ListFailures(ctx context.Context, limit int32) ([]models.PaymentFailure, error)
}

type creditService interface {
	// Spend debits credits for marketplace usage
	// Has to return apperrors.ErrBalanceInsufficient when not affordable
	Spend(ctx context.Context, userID int64, amount int64, description string) (models.Transaction, error)

	// Grant credits the user outside of a payment
	Grant(ctx context.Context, userID int64, amount int64, description string) (models.Transaction, error)

	// Get the current balance projection
	// Has to return apperrors.ErrUserNotFound for unknown users
	GetBalance(ctx context.Context, userID int64) (models.Balance, error)

	// List ledger entries newest first, optionally filtered by kind
	ListTransactions(ctx context.Context, userID int64, kinds []string) ([]models.Transaction, error)

	// Rebuild the balance projection by replaying the ledger
	RecomputeBalance(ctx context.Context, userID int64) (models.Balance, error)
}

type checkoutClient interface {
	InitiateCheckout(ctx context.Context, req gateway.CheckoutRequest) (gateway.Checkout, error)
}
