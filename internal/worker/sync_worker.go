// Package worker mirrors expenses into the external ledger. It consumes
// expense events from AMQP, runs the periodic repair loop for events that
// never arrived, and reconciles orphaned ledger rows on startup.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"romana/internal/amqp"
	"romana/internal/backend"
	"romana/internal/ledger"
	"romana/internal/services"
	"romana/internal/storage"
)

const stopTimeout = 10 * time.Second

// SyncBackend is the persistence surface the worker needs: expense
// lookups plus sync bookkeeping.
type SyncBackend interface {
	backend.ExpenseStore
	backend.SyncTracker
}

// SyncWorker wires event consumption and the repair loop together.
// The AMQP client may be nil; the worker then runs on the repair loop
// alone and every expense is picked up by polling instead of events.
type SyncWorker struct {
	store  SyncBackend
	book   ledger.Ledger
	events *amqp.Client
	repair *services.SyncProcessor
}

func NewSyncWorker(store SyncBackend, book ledger.Ledger, events *amqp.Client, repair *services.SyncProcessor) *SyncWorker {
	return &SyncWorker{
		store:  store,
		book:   book,
		events: events,
		repair: repair,
	}
}

// Run blocks until ctx is cancelled, driving the consumer and the repair
// loop. Startup reconciliation failures are logged, not fatal: a stale
// ledger row is better than a worker that refuses to start.
func (w *SyncWorker) Run(ctx context.Context) error {
	if err := w.Reconcile(ctx); err != nil {
		slog.WarnContext(ctx, "Startup reconciliation failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if w.events != nil {
		g.Go(func() error {
			err := w.events.Consume(ctx, w.Handlers())
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consume expense events: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := w.repair.Start(ctx); err != nil {
			return fmt.Errorf("start repair loop: %w", err)
		}
		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return w.repair.Stop(stopCtx)
	})

	return g.Wait()
}

// Handlers returns the AMQP dispatch table for this worker.
func (w *SyncWorker) Handlers() amqp.Handlers {
	return amqp.Handlers{
		OnExpenseCreated: w.HandleExpenseCreated,
		OnExpenseDeleted: w.HandleExpenseDeleted,
	}
}

// HandleExpenseCreated mirrors a newly created expense into the ledger.
// Returning an error requeues the delivery, so only retryable failures
// bubble up; everything that cannot improve on retry is acked away.
func (w *SyncWorker) HandleExpenseCreated(ctx context.Context, msg *amqp.ExpenseCreatedMessage) error {
	slog.InfoContext(ctx, "Processing expense created event",
		"expense_id", msg.ExpenseID,
		"user_id", msg.UserID,
		"version", msg.Version)

	expense, err := w.store.ExpenseByID(ctx, msg.UserID, msg.ExpenseID)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted before the event was consumed. The delete event
		// follows in the same queue, nothing to mirror.
		slog.WarnContext(ctx, "Expense vanished before sync, skipping",
			"expense_id", msg.ExpenseID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load expense %s: %w", msg.ExpenseID, err)
	}

	state, err := w.store.ExpenseSync(ctx, msg.ExpenseID)
	if err == nil && state.Synced {
		// Redelivery after a lost ack, or the repair loop won the race.
		slog.InfoContext(ctx, "Expense already synced, skipping",
			"expense_id", msg.ExpenseID,
			"ledger_ref", state.LedgerRef)
		return nil
	}

	ref, err := w.book.Append(ctx, ledger.EntryFromExpense(msg.UserID, expense))
	if err != nil {
		if markErr := w.store.MarkSyncError(ctx, msg.ExpenseID, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "Failed to record sync error",
				"expense_id", msg.ExpenseID, "error", markErr)
		}
		return fmt.Errorf("append to ledger: %w", err)
	}

	if err := w.store.MarkSynced(ctx, msg.ExpenseID, ref); err != nil {
		// The ledger write landed; do not requeue or the row duplicates.
		slog.ErrorContext(ctx, "Failed to mark expense as synced",
			"expense_id", msg.ExpenseID, "ledger_ref", ref, "error", err)
		return nil
	}

	slog.InfoContext(ctx, "Mirrored expense to ledger",
		"expense_id", msg.ExpenseID,
		"ledger_ref", ref)

	return nil
}

// HandleExpenseDeleted clears the mirrored ledger row for a deleted
// expense. The ref travels in the message because the expense row is
// already gone from storage.
func (w *SyncWorker) HandleExpenseDeleted(ctx context.Context, msg *amqp.ExpenseDeletedMessage) error {
	slog.InfoContext(ctx, "Processing expense deleted event",
		"expense_id", msg.ExpenseID,
		"user_id", msg.UserID,
		"ledger_ref", msg.LedgerRef)

	if msg.LedgerRef == "" {
		slog.InfoContext(ctx, "Expense was never mirrored, nothing to remove",
			"expense_id", msg.ExpenseID)
		return nil
	}

	err := w.book.Remove(ctx, msg.LedgerRef)
	if errors.Is(err, ledger.ErrRefNotFound) {
		slog.WarnContext(ctx, "Ledger row already removed",
			"expense_id", msg.ExpenseID,
			"ledger_ref", msg.LedgerRef)
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove ledger row %s: %w", msg.LedgerRef, err)
	}

	slog.InfoContext(ctx, "Removed expense from ledger",
		"expense_id", msg.ExpenseID,
		"ledger_ref", msg.LedgerRef)

	return nil
}

// Reconcile removes ledger rows whose source expense no longer exists.
// Rows appear orphaned when a delete event is lost or the worker was down
// while expenses were deleted.
func (w *SyncWorker) Reconcile(ctx context.Context) error {
	refs, err := w.book.Refs(ctx)
	if err != nil {
		return fmt.Errorf("list ledger refs: %w", err)
	}

	if len(refs) == 0 {
		slog.InfoContext(ctx, "Ledger is empty, nothing to reconcile")
		return nil
	}

	removed := 0
	for expenseID, ref := range refs {
		if _, err := w.store.ExpenseSync(ctx, expenseID); !errors.Is(err, storage.ErrNotFound) {
			if err != nil {
				slog.ErrorContext(ctx, "Failed to check expense during reconciliation",
					"expense_id", expenseID, "error", err)
			}
			continue
		}

		if err := w.book.Remove(ctx, ref); err != nil && !errors.Is(err, ledger.ErrRefNotFound) {
			slog.ErrorContext(ctx, "Failed to remove orphaned ledger row",
				"expense_id", expenseID, "ledger_ref", ref, "error", err)
			continue
		}

		removed++
		slog.InfoContext(ctx, "Removed orphaned ledger row",
			"expense_id", expenseID,
			"ledger_ref", ref)
	}

	slog.InfoContext(ctx, "Ledger reconciliation complete",
		"checked", len(refs),
		"removed", removed)

	return nil
}
