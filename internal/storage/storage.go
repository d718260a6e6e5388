// Package storage provides the persistence implementations behind the
// backend ports: sqlite (default), postgres and an in-memory store.
package storage

import (
	"errors"

	"romana/internal/core"
)

var (
	// ErrNotFound marks lookups and deletes that matched nothing.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate marks unique-constraint violations (email, friend name).
	ErrDuplicate = errors.New("already exists")
)

type (
	// SyncState is the ledger-mirror bookkeeping attached to an expense.
	SyncState struct {
		Synced    bool
		LedgerRef string
		SyncError string
	}

	// OwnedExpense pairs an expense with its owning user. The worker
	// operates across users, so user scope travels with the row.
	OwnedExpense struct {
		UserID  string
		Expense core.Expense
	}

	// OwnedRecurring pairs a recurring rule with its owning user.
	OwnedRecurring struct {
		UserID string
		Rule   core.RecurringExpense
	}
)
