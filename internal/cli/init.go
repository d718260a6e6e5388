// Package cli consolidates the bootstrap steps shared by the binaries
// under cmd/.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"romana/internal/amqp"
	"romana/internal/backend"
	"romana/internal/config"
	"romana/internal/ledger"
	ledgergoogle "romana/internal/ledger/google"
	ledgermem "romana/internal/ledger/memory"
	"romana/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads the environment configuration, installs the
// logger it describes and validates the rest. Exits the process on
// validation failure.
func LoadAndValidateConfig() (*config.Config, *slog.Logger) {
	cfg := config.Load()
	logger := log.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg, logger
}

// OpenBackend builds the configured data backend. Returns the backend and a
// cleanup function, or exits the process on failure.
func OpenBackend(ctx context.Context, logger *slog.Logger, cfg *config.Config) (backend.Backend, backend.CleanupFunc) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}

	result, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	cleanup := result.Cleanup
	if cleanup == nil {
		cleanup = func() error { return nil }
	}
	return result.Backend, cleanup
}

// DialAMQP connects to the broker when AMQP_URL is set. A missing URL or a
// failed dial both return nil: the caller degrades to local-only operation.
func DialAMQP(logger *slog.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - expenses will not sync to the ledger")
		return nil
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing in local-only mode", "error", err)
		return nil
	}

	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// OpenLedger builds the ledger mirror selected by LEDGER. Returns nil when
// mirroring is off; exits the process when a configured ledger cannot be
// reached.
func OpenLedger(ctx context.Context, logger *slog.Logger, cfg *config.Config) ledger.Ledger {
	switch cfg.Ledger {
	case "google":
		client, err := ledgergoogle.New(ctx, cfg.SheetsSpreadsheetID, cfg.SheetsTab)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets ledger", "error", err)
			os.Exit(1)
		}
		logger.Info("Google Sheets ledger initialized",
			"spreadsheet_id", cfg.SheetsSpreadsheetID,
			"tab", cfg.SheetsTab)
		return client

	case "memory":
		logger.Info("In-memory ledger initialized")
		return ledgermem.New()

	default:
		logger.Info("Ledger mirroring disabled")
		return nil
	}
}

// GracefulShutdown blocks until SIGINT or SIGTERM, then runs the shutdown
// function with a timeout context.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, shutdown func(ctx context.Context)) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if shutdown != nil {
		shutdown(shutdownCtx)
	}
	logger.Info("Shutdown complete")
}
