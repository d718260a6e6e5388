package main

import (
	"context"
	"time"

	"romana/internal/cli"
	"romana/internal/core"
	"romana/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()

	logger.Info("Starting recurring-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, cleanup := cli.OpenBackend(ctx, logger, cfg)
	defer func() {
		if err := cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	// Created expenses flow through the same service as API writes, so
	// they publish sync events when a broker is around.
	amqpClient := cli.DialAMQP(logger, cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	expenses := services.NewExpenseService(be, amqpClient)
	processor := services.NewRecurringProcessor(be, expenses)

	logger.Info("Recurring expense processor configured", "interval", cfg.RecurringInterval)

	if count, err := processor.ProcessDue(ctx, core.Today()); err != nil {
		logger.Error("Initial processing failed", "error", err)
	} else {
		logger.Info("Initial processing complete", "expenses_created", count)
	}

	ticker := time.NewTicker(cfg.RecurringInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := processor.ProcessDue(ctx, core.Today())
				if err != nil {
					logger.Error("Periodic processing failed", "error", err)
				} else if count > 0 {
					logger.Info("Periodic processing complete", "expenses_created", count)
				}
			}
		}
	}()

	cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(context.Context) {
		cancel()
	})
}
