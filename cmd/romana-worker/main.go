package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"romana/internal/amqp"
	"romana/internal/cli"
	"romana/internal/services"
	"romana/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()

	logger.Info("Starting romana-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, cleanup := cli.OpenBackend(ctx, logger, cfg)
	defer func() {
		if err := cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	book := cli.OpenLedger(ctx, logger, cfg)
	if book == nil {
		logger.Error("LEDGER=off leaves this worker nothing to do, set LEDGER=google or LEDGER=memory")
		os.Exit(1)
	}

	// A configured broker that can't be reached is fatal: better to
	// crash-loop visibly than to silently fall back to polling.
	var events *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		events, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer events.Close()
		logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - running on the repair loop alone")
	}

	repair := services.NewSyncProcessor(be, book, services.SyncProcessorConfig{
		PollInterval: cfg.SyncInterval,
		BatchSize:    cfg.SyncBatchSize,
	})

	syncWorker := worker.NewSyncWorker(be, book, events, repair)

	runErr := make(chan error, 1)
	go func() {
		runErr <- syncWorker.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		select {
		case err := <-runErr:
			if err != nil {
				logger.Error("Worker stopped with error", "error", err)
			}
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		}

	case err := <-runErr:
		if err != nil {
			logger.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("Worker stopped gracefully")
}
