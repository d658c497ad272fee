package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hdevtech/ticket/internal/api"
	"github.com/hdevtech/ticket/internal/application/factories/infrastructure"
	"github.com/hdevtech/ticket/internal/config"
	redisInfra "github.com/hdevtech/ticket/internal/infrastructure/redis"
	"github.com/hdevtech/ticket/internal/usecase"
	"github.com/hdevtech/ticket/internal/worker"
)

func main() {
	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	if cfg.Auth.JWTSecret == "" {
		logger.Error("auth.jwt_secret is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	ledger, err := infraFactory.Ledger(ctx)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}

	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	workflow, err := infraFactory.Workflow(ctx)
	if err != nil {
		logger.Error("failed to build settlement workflow", "error", err)
		os.Exit(1)
	}

	// Background settlements outlive requests but not the process.
	runCtx, stopRuns := context.WithCancel(context.Background())
	runner := infraFactory.Runner(runCtx, workflow)

	// UseCases
	purchaseUC := usecase.NewPurchaseTicket(usecase.PurchaseDeps{
		Tickets: ledger.Tickets,
		Gateway: infraFactory.Gateway(),
		Charges: ledger.Charges,
		Events:  ledger.Events,
		Tx:      ledger.Tx,
	}, cfg.HTTP.PublicURL)
	receiptUC := usecase.NewGetReceipt(ledger.Tickets, redisInfra.NewJSONCache(redisClient, "receipt:"), cfg.Receipt.CacheTTL, cfg.HTTP.PublicURL)
	settlementUC := usecase.NewGetSettlement(ledger.Tickets, ledger.Trail, ledger.Inbox, ledger.Charges)

	// The embedded ledger has no settler process; sweep pending tickets here.
	if ledger.Driver == config.LedgerBolt {
		sweeper := worker.NewPendingSweeper(ledger.Tickets, runner, cfg.Settlement.SweepInterval, cfg.Settlement.StaleAfter, logger)
		go sweeper.Run(ctx)
	}

	// REST API Handler
	handlers := api.NewHandlers(purchaseUC, receiptUC, settlementUC, workflow, runner, cfg.Settlement.SyncTimeout)
	apiHandler := api.NewRouter(handlers, api.RouterConfig{
		JWTSecret:   []byte(cfg.Auth.JWTSecret),
		Issuer:      cfg.Auth.Issuer,
		Idempotency: redisInfra.NewIdempotencyStore(redisClient),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: apiHandler,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.HTTP.Port, "ledger", ledger.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	stopRuns()
	runner.Wait()

	logger.Info("Server exiting")
}
