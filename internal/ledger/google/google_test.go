package google

import (
	"context"
	"os"
	"strings"
	"testing"

	"romana/internal/core"
	"romana/internal/ledger"
)

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOOGLE_SERVICE_ACCOUNT_JSON",
		"GOOGLE_SERVICE_ACCOUNT_FILE",
		"GOOGLE_APPLICATION_CREDENTIALS",
	} {
		old := os.Getenv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if old != "" {
				os.Setenv(key, old)
			}
		})
	}
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), "  ", "Ledger")
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing spreadsheet id" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	clearCredentialEnv(t)

	_, err := New(context.Background(), "sheet-id", "Ledger")
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClient_AppendValidatesEntry(t *testing.T) {
	c := &Client{spreadsheetID: "test", tab: "Ledger"} // svc stays nil

	invalid := ledger.Entry{
		ExpenseID: "",
		UserID:    "u1",
		Amount:    core.Money{Cents: 100},
	}
	if _, err := c.Append(context.Background(), invalid); err == nil {
		t.Fatal("expected validation error for missing expense id")
	}

	// A valid entry still fails before any network call when svc is nil
	valid := ledger.Entry{
		ExpenseID: "e1",
		UserID:    "u1",
		Title:     "Dinner",
		Amount:    core.Money{Cents: 12000},
		Date:      core.NewDate(2025, 3, 14),
		PaidBy:    core.Self(),
	}
	_, err := c.Append(context.Background(), valid)
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected service not initialized error, got %v", err)
	}
}

func TestRowRef(t *testing.T) {
	if got := rowRef("Ledger", 5); got != "Ledger!A5:H5" {
		t.Errorf("rowRef() = %q, want Ledger!A5:H5", got)
	}
}

func TestJoinParticipants(t *testing.T) {
	split := []core.Participant{core.Self(), core.Named("Alex"), core.Named("Maria")}
	if got := joinParticipants(split); got != "You, Alex, Maria" {
		t.Errorf("joinParticipants() = %q", got)
	}
	if got := joinParticipants(nil); got != "" {
		t.Errorf("joinParticipants(nil) = %q, want empty", got)
	}
}
