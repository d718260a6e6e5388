// ledger-init is a one-time setup check for the Google Sheets ledger: it
// verifies the service account can reach the configured spreadsheet, writes
// the column header if the tab is empty and reports how many rows are
// already mirrored. Run it once after provisioning credentials, before
// starting romana-worker.
package main

import (
	"context"
	"os"
	"time"

	"romana/internal/cli"
	ledgergoogle "romana/internal/ledger/google"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()

	if cfg.Ledger != "google" {
		logger.Error("ledger-init only applies to LEDGER=google", "ledger", cfg.Ledger)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := ledgergoogle.New(ctx, cfg.SheetsSpreadsheetID, cfg.SheetsTab)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}

	if err := client.EnsureHeader(ctx); err != nil {
		logger.Error("Failed to write ledger header", "error", err)
		os.Exit(1)
	}

	refs, err := client.Refs(ctx)
	if err != nil {
		logger.Error("Failed to read ledger rows", "error", err)
		os.Exit(1)
	}

	logger.Info("Ledger is reachable and initialized",
		"spreadsheet_id", cfg.SheetsSpreadsheetID,
		"tab", cfg.SheetsTab,
		"mirrored_rows", len(refs))
}
