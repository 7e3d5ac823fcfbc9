package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayilmaz/creditd/internal/cache"
	"github.com/ayilmaz/creditd/internal/db"
	"github.com/ayilmaz/creditd/internal/handlers"
	"github.com/ayilmaz/creditd/internal/logger"
	"github.com/ayilmaz/creditd/internal/repository/postgres"
	"github.com/ayilmaz/creditd/internal/service/credit"
	"github.com/ayilmaz/creditd/internal/service/gateway"
	"github.com/ayilmaz/creditd/internal/service/payment"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Optional balance read cache, nil when not configured
	balanceCache := cache.NewBalanceCache(c.RedisAddr)

	// Initialize services
	creditService := credit.NewService(storage, balanceCache, logger)
	processor := payment.NewProcessor(payment.Config{
		WebhookSecret: c.WebhookSecret,
		AllowedIPs:    c.AllowedIPs,
	}, storage, balanceCache, logger)
	gatewayClient := gateway.NewClient(c.GatewayAddr, c.GatewayAPIKey, logger)

	mux := handlers.NewRouter(
		processor,
		creditService,
		gatewayClient,
		c.ServiceTokenSecret,
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server")
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
