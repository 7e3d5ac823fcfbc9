package e2e

import (
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayilmaz/creditd/internal/handlers"
	"github.com/ayilmaz/creditd/internal/logger"
	"github.com/ayilmaz/creditd/internal/repository"
	"github.com/ayilmaz/creditd/internal/repository/postgres"
	"github.com/ayilmaz/creditd/internal/service/credit"
	"github.com/ayilmaz/creditd/internal/service/gateway"
	"github.com/ayilmaz/creditd/internal/service/payment"
	"github.com/ayilmaz/creditd/internal/testutil"
)

// Secrets shared between the served app and the tests
const (
	WebhookSecret      = "e2e-webhook-secret"
	ServiceTokenSecret = "e2e-service-token-secret"
)

type Services struct {
	Processor     *payment.Processor
	CreditService *credit.CreditService
	Storage       repository.Storage
}

// Create db transaction and run server with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.InTx with it
func ServeInTx(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.InTx(dbpool, t, func(tx pgx.Tx) {
		storage := postgres.NewStorage(tx)

		processor := payment.NewProcessor(
			payment.Config{WebhookSecret: WebhookSecret},
			storage,
			nil, // no redis in tests, nil cache is a no-op
			nil,
		)
		creditService := credit.NewService(storage, nil, nil)
		checkoutClient := gateway.NewClient("http://gateway.invalid", "e2e-api-key", nil)

		router := handlers.NewRouter(
			processor,
			creditService,
			checkoutClient,
			ServiceTokenSecret,
			logger.NewNoOpLogger(),
		)

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			Processor:     processor,
			CreditService: creditService,
			Storage:       storage,
		})
	})
}
