package services

import (
	"context"
	"fmt"
	"log/slog"

	"romana/internal/backend"
	"romana/internal/core"
)

// RecurringProcessor materializes due recurring rules into real expenses.
type RecurringProcessor struct {
	store    backend.RecurringStore
	expenses *ExpenseService
}

// NewRecurringProcessor creates a new recurring expense processor.
func NewRecurringProcessor(store backend.RecurringStore, expenses *ExpenseService) *RecurringProcessor {
	return &RecurringProcessor{
		store:    store,
		expenses: expenses,
	}
}

// ProcessDue walks every active rule across all users and creates an
// expense for each rule that is due on the given day. Returns the number
// of expenses created. Failures on individual rules are logged and
// skipped so one broken rule never blocks the rest.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, today core.Date) (int, error) {
	if p.store == nil || p.expenses == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	rules, err := p.store.ListActiveRecurring(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active recurring rules: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring expenses",
		"total_active", len(rules),
		"processing_date", today.String())

	processed := 0

	for _, owned := range rules {
		rule := owned.Rule
		if !isDue(rule, today) {
			continue
		}

		expense := core.Expense{
			Title:     rule.Title,
			Amount:    rule.Amount,
			Date:      today,
			PaidBy:    rule.PaidBy,
			SplitWith: rule.SplitWith,
		}

		if _, err := p.expenses.Create(ctx, owned.UserID, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to create expense from recurring rule",
				"rule_id", rule.ID,
				"title", rule.Title,
				"error", err)
			continue
		}

		if err := p.store.MarkRecurringRun(ctx, rule.ID, today); err != nil {
			slog.ErrorContext(ctx, "Failed to record recurring run",
				"rule_id", rule.ID,
				"error", err)
			// Continue anyway - expense was created successfully
		}

		processed++
		slog.InfoContext(ctx, "Created expense from recurring rule",
			"rule_id", rule.ID,
			"title", rule.Title,
			"amount_cents", rule.Amount.Cents,
			"day_of_month", rule.DayOfMonth)
	}

	slog.InfoContext(ctx, "Recurring expense processing complete",
		"processed", processed,
		"total_checked", len(rules))

	return processed, nil
}

// isDue reports whether a monthly rule should fire today: the day of
// month has been reached and the rule has not already run this month.
// Rules are validated to days 1-28, so every month has the target day.
func isDue(rule core.RecurringExpense, today core.Date) bool {
	if today.Day() < rule.DayOfMonth {
		return false
	}
	return !rule.LastRun.SameMonth(today)
}
