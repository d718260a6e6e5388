// Package ledger defines the one-way spreadsheet mirror of the expense log.
package ledger

import (
	"context"
	"errors"

	"romana/internal/core"
)

var ErrRefNotFound = errors.New("ledger ref not found")

// Entry is one ledger row: the flattened, owner-tagged form of an expense.
type Entry struct {
	ExpenseID string
	UserID    string
	Title     string
	Amount    core.Money
	Date      core.Date
	PaidBy    core.Participant
	SplitWith []core.Participant
}

// EntryFromExpense builds the ledger entry for an owned expense.
func EntryFromExpense(userID string, e core.Expense) Entry {
	return Entry{
		ExpenseID: e.ID,
		UserID:    userID,
		Title:     e.Title,
		Amount:    e.Amount,
		Date:      e.Date,
		PaidBy:    e.PaidBy,
		SplitWith: e.SplitWith,
	}
}

func (e Entry) Validate() error {
	if e.ExpenseID == "" {
		return errors.New("ledger entry missing expense id")
	}
	if e.UserID == "" {
		return errors.New("ledger entry missing user id")
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	return nil
}

// Ports for outbound adapters.
type (
	// Appender writes one entry and returns an opaque row ref the caller
	// stores for later removal.
	Appender interface {
		Append(ctx context.Context, entry Entry) (ref string, err error)
	}

	// Remover deletes a previously appended row by its ref.
	Remover interface {
		Remove(ctx context.Context, ref string) error
	}

	// Lister rebuilds the expense id to row ref map from the sheet, used
	// by the worker's startup reconcile.
	Lister interface {
		Refs(ctx context.Context) (map[string]string, error)
	}

	Ledger interface {
		Appender
		Remover
		Lister
	}
)
