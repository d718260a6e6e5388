package memory

import (
	"context"
	"errors"
	"testing"

	"romana/internal/core"
	"romana/internal/ledger"
)

func testEntry(expenseID string) ledger.Entry {
	return ledger.Entry{
		ExpenseID: expenseID,
		UserID:    "u1",
		Title:     "Dinner",
		Amount:    core.Money{Cents: 12000},
		Date:      core.NewDate(2025, 3, 14),
		PaidBy:    core.Self(),
		SplitWith: []core.Participant{core.Self(), core.Named("Alex")},
	}
}

func TestStoreAppendAndRefs(t *testing.T) {
	s := New()
	ctx := context.Background()

	ref1, err := s.Append(ctx, testEntry("e1"))
	if err != nil || ref1 != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref1, err)
	}
	ref2, err := s.Append(ctx, testEntry("e2"))
	if err != nil || ref2 != "mem:2" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref2, err)
	}

	refs, err := s.Refs(ctx)
	if err != nil {
		t.Fatalf("Refs() error = %v", err)
	}
	if len(refs) != 2 || refs["e1"] != "mem:1" || refs["e2"] != "mem:2" {
		t.Fatalf("unexpected refs: %v", refs)
	}
}

func TestStoreRemove(t *testing.T) {
	s := New()
	ctx := context.Background()

	ref, _ := s.Append(ctx, testEntry("e1"))
	if err := s.Remove(ctx, ref); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	refs, _ := s.Refs(ctx)
	if len(refs) != 0 {
		t.Fatalf("expected no live refs after removal, got %v", refs)
	}

	// Removing twice or removing an unknown ref fails
	if err := s.Remove(ctx, ref); !errors.Is(err, ledger.ErrRefNotFound) {
		t.Fatalf("expected ErrRefNotFound, got %v", err)
	}
}

func TestStoreAppendRejectsInvalidEntry(t *testing.T) {
	s := New()
	entry := testEntry("e1")
	entry.Amount = core.Money{}

	if _, err := s.Append(context.Background(), entry); err == nil {
		t.Fatal("expected validation error for zero amount")
	}
}
