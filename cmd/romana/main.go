package main

import (
	"context"
	"os"

	"romana/internal/cli"
	apphttp "romana/internal/http"
	"romana/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()

	logger.Info("Starting romana API server")

	be, cleanup := cli.OpenBackend(context.Background(), logger, cfg)
	defer func() {
		if err := cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	// Without a broker the API still works; expenses just wait for the
	// worker's repair loop instead of syncing promptly.
	amqpClient := cli.DialAMQP(logger, cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	expenses := services.NewExpenseService(be, amqpClient)
	srv := apphttp.NewServer(cfg, be, expenses)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(shutdownCtx context.Context) {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server shutdown error", "error", err)
			}
		})
		cancel()
	}()

	logger.Info("Listening", "addr", cfg.HTTPAddr, "backend", cfg.DataBackend)
	if err := srv.Start(); err != nil {
		logger.Error("Server error", "error", err, "addr", cfg.HTTPAddr)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
