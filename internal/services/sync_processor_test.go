package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"romana/internal/core"
	"romana/internal/ledger"
	ledgermem "romana/internal/ledger/memory"
	"romana/internal/storage"
)

// failingAppender rejects every append with a fixed error.
type failingAppender struct {
	err error
}

func (f failingAppender) Append(context.Context, ledger.Entry) (string, error) {
	return "", f.err
}

func seedExpense(t *testing.T, store *storage.MemoryStore, id string, createdAt time.Time) {
	t.Helper()
	e := testExpense("Dinner " + id)
	e.ID = id
	e.CreatedAt = createdAt
	if err := store.CreateExpense(context.Background(), "user-1", e); err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	if config.PollInterval != 5*time.Minute {
		t.Errorf("expected PollInterval 5m, got %v", config.PollInterval)
	}
	if config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", config.BatchSize)
	}
}

func TestSyncProcessor_ProcessPending(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	book := ledgermem.New()
	processor := NewSyncProcessor(store, book, DefaultSyncProcessorConfig())

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	seedExpense(t, store, "exp-1", base)
	seedExpense(t, store, "exp-2", base.Add(time.Second))

	synced, err := processor.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if synced != 2 {
		t.Fatalf("expected 2 synced, got %d", synced)
	}

	state, err := store.ExpenseSync(ctx, "exp-1")
	if err != nil {
		t.Fatalf("ExpenseSync failed: %v", err)
	}
	if !state.Synced {
		t.Error("exp-1 should be marked synced")
	}
	if state.LedgerRef != "mem:1" {
		t.Errorf("expected ledger ref mem:1, got %q", state.LedgerRef)
	}

	if entries := book.Entries(); len(entries) != 2 {
		t.Errorf("expected 2 ledger entries, got %d", len(entries))
	}

	// Nothing left to do on the next pass.
	synced, err = processor.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("second ProcessPending failed: %v", err)
	}
	if synced != 0 {
		t.Errorf("expected 0 synced on second pass, got %d", synced)
	}
}

func TestSyncProcessor_RecordsFailureAndRetries(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedExpense(t, store, "exp-1", time.Now().UTC())

	failing := NewSyncProcessor(store, failingAppender{err: errors.New("quota exceeded")}, DefaultSyncProcessorConfig())
	synced, err := failing.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if synced != 0 {
		t.Fatalf("expected 0 synced, got %d", synced)
	}

	state, err := store.ExpenseSync(ctx, "exp-1")
	if err != nil {
		t.Fatalf("ExpenseSync failed: %v", err)
	}
	if state.Synced {
		t.Error("expense must stay pending after a failed append")
	}
	if state.SyncError != "quota exceeded" {
		t.Errorf("expected recorded sync error, got %q", state.SyncError)
	}

	// The same expense syncs once the ledger recovers.
	working := NewSyncProcessor(store, ledgermem.New(), DefaultSyncProcessorConfig())
	synced, err = working.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if synced != 1 {
		t.Fatalf("expected 1 synced after recovery, got %d", synced)
	}
}

func TestSyncProcessor_BatchSize(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"exp-1", "exp-2", "exp-3"} {
		seedExpense(t, store, id, base.Add(time.Duration(i)*time.Second))
	}

	config := DefaultSyncProcessorConfig()
	config.BatchSize = 2
	processor := NewSyncProcessor(store, ledgermem.New(), config)

	synced, err := processor.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if synced != 2 {
		t.Fatalf("expected batch of 2, got %d", synced)
	}

	synced, err = processor.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if synced != 1 {
		t.Fatalf("expected remaining 1, got %d", synced)
	}
}

func TestSyncProcessor_StartStop(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedExpense(t, store, "exp-1", time.Now().UTC())

	config := SyncProcessorConfig{PollInterval: 10 * time.Millisecond, BatchSize: 10}
	processor := NewSyncProcessor(store, ledgermem.New(), config)

	if processor.IsRunning() {
		t.Error("processor should not be running initially")
	}

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !processor.IsRunning() {
		t.Error("processor should report running after Start")
	}

	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting an already running processor")
	}

	// The startup pass runs immediately; wait for it to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		state, err := store.ExpenseSync(ctx, "exp-1")
		if err != nil {
			t.Fatalf("ExpenseSync failed: %v", err)
		}
		if state.Synced {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expense was not synced by the running processor")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := processor.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should not report running after Stop")
	}
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(storage.NewMemoryStore(), ledgermem.New(), DefaultSyncProcessorConfig())

	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}
