package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"romana/internal/backend"
	"romana/internal/ledger"
)

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to check for pending items (default: 5m)
	PollInterval time.Duration

	// BatchSize is the max number of items to process per poll cycle (default: 10)
	BatchSize int
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval: 5 * time.Minute,
		BatchSize:    10,
	}
}

// SyncProcessor is the repair loop behind the event pipeline: it sweeps
// expenses whose ledger mirror never landed (broker down, worker crash,
// ledger rejection) and retries them. An expense stays pending until a
// MarkSynced succeeds, so every sweep picks up where the last one failed.
type SyncProcessor struct {
	store  backend.SyncTracker
	ledger ledger.Appender
	config SyncProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(store backend.SyncTracker, appender ledger.Appender, config SyncProcessorConfig) *SyncProcessor {
	return &SyncProcessor{
		store:  store,
		ledger: appender,
		config: config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// Signal stop
	close(p.stopCh)

	// Wait for completion or context cancellation
	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// runLoop is the main processing loop
func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on startup
	if _, err := p.ProcessPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Initial sync pass failed", "error", err)
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessPending(ctx); err != nil {
				slog.ErrorContext(ctx, "Sync pass failed", "error", err)
			}
		}
	}
}

// ProcessPending mirrors one batch of pending expenses into the ledger.
// Returns the number of expenses synced. Per-item failures are recorded
// on the expense and retried on a later pass.
func (p *SyncProcessor) ProcessPending(ctx context.Context) (int, error) {
	items, err := p.store.ListPendingSync(ctx, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending sync: %w", err)
	}

	if len(items) == 0 {
		return 0, nil
	}

	slog.DebugContext(ctx, "Processing sync batch", "count", len(items))

	synced := 0

	for _, item := range items {
		select {
		case <-ctx.Done():
			return synced, ctx.Err()
		default:
		}

		ref, err := p.ledger.Append(ctx, ledger.EntryFromExpense(item.UserID, item.Expense))
		if err != nil {
			slog.WarnContext(ctx, "Ledger append failed",
				"expense_id", item.Expense.ID, "error", err)
			if markErr := p.store.MarkSyncError(ctx, item.Expense.ID, err.Error()); markErr != nil {
				slog.ErrorContext(ctx, "Failed to record sync error",
					"expense_id", item.Expense.ID, "error", markErr)
			}
			continue
		}

		// The expense can disappear between listing and marking; the
		// mirrored row is orphaned then and reconciliation cleans it up.
		if err := p.store.MarkSynced(ctx, item.Expense.ID, ref); err != nil {
			slog.ErrorContext(ctx, "Failed to mark expense as synced",
				"expense_id", item.Expense.ID, "ledger_ref", ref, "error", err)
			continue
		}

		synced++
		slog.InfoContext(ctx, "Synced expense to ledger",
			"expense_id", item.Expense.ID,
			"ledger_ref", ref)
	}

	return synced, nil
}
