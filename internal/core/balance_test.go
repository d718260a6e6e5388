package core

import (
	"math"
	"math/rand"
	"testing"
)

func cents(f float64) Money {
	return Money{Cents: int64(math.Floor(f*100 + 0.5))}
}

func expense(amount float64, paidBy Participant, split ...Participant) Expense {
	return Expense{
		Title:     "t",
		Amount:    cents(amount),
		Date:      NewDate(2025, 6, 1),
		PaidBy:    paidBy,
		SplitWith: split,
	}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) <= Epsilon
}

func TestComputeBalancesSkipsEmptySplit(t *testing.T) {
	sheet := ComputeBalances([]Expense{expense(50, Named("Alex"))})
	if len(sheet.Friends) != 0 {
		t.Fatalf("expected no balances, got %v", sheet.Friends)
	}
	if !approx(sheet.Summary.TotalSpent, 50) {
		t.Fatalf("expected total 50, got %v", sheet.Summary.TotalSpent)
	}
	if sheet.Summary.YouPaid != 0 || sheet.Summary.NetBalance != 0 {
		t.Fatalf("expected zero paid/net, got %+v", sheet.Summary)
	}
}

func TestComputeBalancesIgnoresSplitsWithoutSelf(t *testing.T) {
	// Alex paid for Alex and Maria; the current user is not involved.
	sheet := ComputeBalances([]Expense{
		expense(80, Named("Alex"), Named("Alex"), Named("Maria")),
	})
	if len(sheet.Friends) != 0 {
		t.Fatalf("expected no balances, got %v", sheet.Friends)
	}
	if !approx(sheet.Summary.TotalSpent, 80) {
		t.Fatalf("expected total 80, got %v", sheet.Summary.TotalSpent)
	}
}

func TestComputeBalancesEqualSplit(t *testing.T) {
	sheet := ComputeBalances([]Expense{
		expense(90, Self(), Named("A"), Named("B"), Named("C")),
	})
	if len(sheet.Friends) != 3 {
		t.Fatalf("expected 3 balances, got %v", sheet.Friends)
	}
	for _, fb := range sheet.Friends {
		if !approx(fb.Amount, 30) {
			t.Fatalf("%s expected +30, got %v", fb.Name, fb.Amount)
		}
	}
	if !approx(sheet.Summary.YouAreOwed, 90) {
		t.Fatalf("expected youAreOwed 90, got %v", sheet.Summary.YouAreOwed)
	}
}

func TestComputeBalancesFriendPaidForSelf(t *testing.T) {
	sheet := ComputeBalances([]Expense{
		expense(60, Named("A"), Self(), Named("A")),
	})
	if len(sheet.Friends) != 1 {
		t.Fatalf("expected 1 balance, got %v", sheet.Friends)
	}
	if got := sheet.Friends[0]; got.Name != "A" || !approx(got.Amount, -30) {
		t.Fatalf("expected A -30, got %+v", got)
	}
	if !approx(sheet.Summary.YouOwe, 30) {
		t.Fatalf("expected youOwe 30, got %v", sheet.Summary.YouOwe)
	}
}

func TestComputeBalancesSuppressesSettled(t *testing.T) {
	// +25 from the first expense, -25 from the second: settled, so Alex
	// disappears from the sheet entirely.
	sheet := ComputeBalances([]Expense{
		expense(25, Self(), Named("Alex")),
		expense(50, Named("Alex"), Self(), Named("Alex")),
	})
	if len(sheet.Friends) != 0 {
		t.Fatalf("expected settled sheet, got %v", sheet.Friends)
	}
	if sheet.Summary.YouOwe != 0 || sheet.Summary.YouAreOwed != 0 {
		t.Fatalf("expected zero owed totals, got %+v", sheet.Summary)
	}
}

func TestComputeBalancesOrdering(t *testing.T) {
	sheet := ComputeBalances([]Expense{
		expense(30, Self(), Named("Zed")),
		expense(30, Self(), Named("Amy")),
		expense(30, Self(), Named("Mo")),
	})
	want := []string{"Amy", "Mo", "Zed"}
	if len(sheet.Friends) != len(want) {
		t.Fatalf("expected %d balances, got %v", len(want), sheet.Friends)
	}
	for i, name := range want {
		if sheet.Friends[i].Name != name {
			t.Fatalf("position %d expected %s, got %s", i, name, sheet.Friends[i].Name)
		}
	}
}

func TestComputeBalancesScenario(t *testing.T) {
	sheet := ComputeBalances([]Expense{
		expense(120, Self(), Self(), Named("Alex"), Named("Maria")),
		expense(45, Named("Alex"), Self(), Named("Alex")),
	})

	if got := sheet.BalanceWith("Alex"); !approx(got, 17.5) {
		t.Fatalf("Alex expected 17.5, got %v", got)
	}
	if got := sheet.BalanceWith("Maria"); !approx(got, 40) {
		t.Fatalf("Maria expected 40, got %v", got)
	}
	if !approx(sheet.Summary.YouPaid, 120) {
		t.Fatalf("youPaid expected 120, got %v", sheet.Summary.YouPaid)
	}
	if !approx(sheet.Summary.TotalSpent, 165) {
		t.Fatalf("totalSpent expected 165, got %v", sheet.Summary.TotalSpent)
	}
	if !approx(sheet.Summary.NetBalance, 57.5) {
		t.Fatalf("netBalance expected 57.5, got %v", sheet.Summary.NetBalance)
	}
}

func TestComputeBalancesSummaryConsistency(t *testing.T) {
	names := []Participant{Named("A"), Named("B"), Named("C"), Named("D")}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		var expenses []Expense
		for i := 0; i < rng.Intn(20); i++ {
			everyone := append([]Participant{Self()}, names...)
			payer := everyone[rng.Intn(len(everyone))]

			split := make([]Participant, 0, len(everyone))
			for _, p := range everyone {
				if rng.Intn(2) == 0 {
					split = append(split, p)
				}
			}
			expenses = append(expenses, expense(float64(1+rng.Intn(20000))/100, payer, split...))
		}

		sheet := ComputeBalances(expenses)

		var owed, owe float64
		for _, fb := range sheet.Friends {
			if fb.Amount > 0 {
				owed += fb.Amount
			} else {
				owe += -fb.Amount
			}
		}
		if !approx(sheet.Summary.YouAreOwed, owed) {
			t.Fatalf("round %d: youAreOwed %v != sum of positives %v", round, sheet.Summary.YouAreOwed, owed)
		}
		if !approx(sheet.Summary.YouOwe, owe) {
			t.Fatalf("round %d: youOwe %v != sum of negatives %v", round, sheet.Summary.YouOwe, owe)
		}
		if !approx(sheet.Summary.NetBalance, sheet.Summary.YouAreOwed-sheet.Summary.YouOwe) {
			t.Fatalf("round %d: net %v inconsistent", round, sheet.Summary.NetBalance)
		}
	}
}

func TestBalanceWithUnknown(t *testing.T) {
	sheet := ComputeBalances(nil)
	if got := sheet.BalanceWith("Nobody"); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
