// Package services holds the orchestration layer between transport and
// persistence: expense writes with event fan-out, recurring rule
// materialization and the ledger repair loop.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"romana/internal/amqp"
	"romana/internal/backend"
	"romana/internal/core"
	"romana/internal/storage"
)

// ExpenseBackend is the slice of the persistence surface the expense
// service needs: the expense rows plus their sync bookkeeping.
type ExpenseBackend interface {
	backend.ExpenseStore
	backend.SyncTracker
}

// ExpenseService orchestrates expense operations across storage and AMQP.
// Writes land in storage first; event publishing is best effort and never
// fails the request.
type ExpenseService struct {
	store      ExpenseBackend
	amqpClient *amqp.Client
	invalidate func(userID string)
	onEvent    func(outcome string)
}

func NewExpenseService(store ExpenseBackend, amqpClient *amqp.Client) *ExpenseService {
	return &ExpenseService{
		store:      store,
		amqpClient: amqpClient,
	}
}

// OnChange registers a hook invoked after every successful create or
// delete, with the owning user's ID. The balance cache hangs off this.
func (s *ExpenseService) OnChange(fn func(userID string)) {
	s.invalidate = fn
}

// OnEvent registers a hook invoked after every publish attempt with its
// outcome: "published", "failed" or "skipped". Metrics hang off this.
func (s *ExpenseService) OnEvent(fn func(outcome string)) {
	s.onEvent = fn
}

// Create validates and saves an expense, then publishes a sync event.
func (s *ExpenseService) Create(ctx context.Context, userID string, e core.Expense) (core.Expense, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	// Save to storage first (fast, reliable)
	if err := s.store.CreateExpense(ctx, userID, e); err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	// Publish async sync message (non-blocking)
	if err := s.publishCreated(ctx, e.ID, userID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"expense_id", e.ID, "error", err)
		// Don't fail the request - expense is saved locally
	}

	s.notifyChange(userID)
	return e, nil
}

// Delete removes an expense and publishes a delete event carrying the
// ledger ref, so the worker can clear the mirrored row. The sync state is
// read before the delete because the row is gone afterwards.
func (s *ExpenseService) Delete(ctx context.Context, userID, id string) error {
	ledgerRef := ""
	state, err := s.store.ExpenseSync(ctx, id)
	switch {
	case err == nil:
		ledgerRef = state.LedgerRef
	case errors.Is(err, storage.ErrNotFound):
		// Fall through, DeleteExpense reports the missing row.
	default:
		slog.WarnContext(ctx, "Failed to read sync state before delete",
			"expense_id", id, "error", err)
	}

	if err := s.store.DeleteExpense(ctx, userID, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}

	if err := s.publishDeleted(ctx, id, userID, ledgerRef); err != nil {
		slog.ErrorContext(ctx, "Failed to publish delete message",
			"expense_id", id, "error", err)
		// Don't fail the request - expense is deleted locally
	}

	s.notifyChange(userID)
	return nil
}

// List returns the user's expenses, newest first.
func (s *ExpenseService) List(ctx context.Context, userID string) ([]core.Expense, error) {
	return s.store.ListExpenses(ctx, userID)
}

// Get returns a single expense owned by the user.
func (s *ExpenseService) Get(ctx context.Context, userID, id string) (core.Expense, error) {
	return s.store.ExpenseByID(ctx, userID, id)
}

func (s *ExpenseService) publishCreated(ctx context.Context, expenseID, userID string) error {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping sync message")
		s.reportEvent("skipped")
		return nil
	}

	if err := s.amqpClient.PublishExpenseCreated(ctx, expenseID, userID); err != nil {
		s.reportEvent("failed")
		return err
	}
	s.reportEvent("published")
	return nil
}

func (s *ExpenseService) publishDeleted(ctx context.Context, expenseID, userID, ledgerRef string) error {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping delete message")
		s.reportEvent("skipped")
		return nil
	}

	if err := s.amqpClient.PublishExpenseDeleted(ctx, expenseID, userID, ledgerRef); err != nil {
		s.reportEvent("failed")
		return err
	}
	s.reportEvent("published")
	return nil
}

func (s *ExpenseService) notifyChange(userID string) {
	if s.invalidate != nil {
		s.invalidate(userID)
	}
}

func (s *ExpenseService) reportEvent(outcome string) {
	if s.onEvent != nil {
		s.onEvent(outcome)
	}
}
