package core

import (
	"math"
	"sort"
)

// Epsilon is the suppression threshold for settled balances: a counterparty
// whose accumulated balance has absolute value at or below it is omitted
// from the computed sheet. The constant absorbs the noise of the float
// division used for shares.
const Epsilon = 0.01

type (
	// FriendBalance is the net position against one counterparty.
	// Positive: they owe the current user. Negative: the current user
	// owes them.
	FriendBalance struct {
		Name   string  `json:"name"`
		Amount float64 `json:"amount"`
	}

	// BalanceSummary aggregates the whole expense list. Every field is
	// non-negative except NetBalance, which is YouAreOwed - YouOwe.
	BalanceSummary struct {
		TotalSpent float64 `json:"total_spent"`
		YouPaid    float64 `json:"you_paid"`
		YouOwe     float64 `json:"you_owe"`
		YouAreOwed float64 `json:"you_are_owed"`
		NetBalance float64 `json:"net_balance"`
	}

	// BalanceSheet is the full calculator output. Friends is sorted
	// ascending by name, a display contract, and never contains a
	// settled counterparty.
	BalanceSheet struct {
		Summary BalanceSummary  `json:"summary"`
		Friends []FriendBalance `json:"friend_balances"`
	}
)

// ComputeBalances derives the balance sheet from the full expense list.
// It is a total function: no input satisfying the Expense shape produces
// an error, and the odd shapes degrade to skips instead.
//
// Per expense with n split participants, each participant's share is
// amount/n using float division. When the current user paid, every other
// participant is credited one share. When a friend paid and the current
// user is among the split, the payer is debited one share. An expense a
// friend paid that doesn't include the current user moves no balance:
// debts between two friends are deliberately out of scope. An empty split
// is skipped outright. Every expense counts toward TotalSpent regardless.
func ComputeBalances(expenses []Expense) BalanceSheet {
	totals := make(map[string]float64)
	var sheet BalanceSheet

	for _, e := range expenses {
		amount := e.Amount.Amount()
		sheet.Summary.TotalSpent += amount
		if e.PaidBy.IsSelf() {
			sheet.Summary.YouPaid += amount
		}

		n := len(e.SplitWith)
		if n == 0 {
			continue
		}
		share := amount / float64(n)

		if e.PaidBy.IsSelf() {
			for _, p := range e.SplitWith {
				if !p.IsSelf() {
					totals[p.Name()] += share
				}
			}
			continue
		}

		for _, p := range e.SplitWith {
			if p.IsSelf() {
				totals[e.PaidBy.Name()] -= share
				break
			}
		}
	}

	sheet.Friends = make([]FriendBalance, 0, len(totals))
	for name, amount := range totals {
		if math.Abs(amount) <= Epsilon {
			continue
		}
		sheet.Friends = append(sheet.Friends, FriendBalance{Name: name, Amount: amount})
		if amount > 0 {
			sheet.Summary.YouAreOwed += amount
		} else {
			sheet.Summary.YouOwe += -amount
		}
	}
	sort.Slice(sheet.Friends, func(i, j int) bool {
		return sheet.Friends[i].Name < sheet.Friends[j].Name
	})

	sheet.Summary.NetBalance = sheet.Summary.YouAreOwed - sheet.Summary.YouOwe
	return sheet
}

// BalanceWith returns the computed balance against a single counterparty,
// zero when settled or unknown.
func (s BalanceSheet) BalanceWith(name string) float64 {
	for _, fb := range s.Friends {
		if fb.Name == name {
			return fb.Amount
		}
	}
	return 0
}
