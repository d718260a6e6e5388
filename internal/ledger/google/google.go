// Package google mirrors the ledger to a Google Sheets spreadsheet tab.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"romana/internal/core"
	"romana/internal/ledger"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	tab           string
}

// Ensure interface conformance
var _ ledger.Ledger = (*Client)(nil)

// New creates a Sheets-backed ledger writing to one spreadsheet tab.
// Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, spreadsheetID, tab string) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	tab = strings.TrimSpace(tab)
	if tab == "" {
		tab = "Ledger"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		tab:           tab,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account
// credentials, either inline JSON or a file path.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))

	// Also check the standard Google Cloud environment variable
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return service, nil
}

// Append writes the entry into the next free row and returns its A1 range.
func (c *Client) Append(ctx context.Context, entry ledger.Entry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	// Find the next empty row from the length of the id column.
	rng := fmt.Sprintf("%s!A:A", c.tab)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get sheet dimensions for %s: %w", c.tab, err)
	}
	nextRow := len(resp.Values) + 1

	ref := rowRef(c.tab, nextRow)
	vr := &gsheet.ValueRange{Values: [][]any{{
		entry.ExpenseID,
		entry.UserID,
		entry.Date.String(),
		entry.Title,
		entry.Amount.StringFixed(),
		entry.PaidBy.String(),
		joinParticipants(entry.SplitWith),
		time.Now().UTC().Format(time.RFC3339),
	}}}

	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, ref, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to write row in sheet %s: %w", c.tab, err)
	}

	return ref, nil
}

// Remove clears the row for the given ref. Clearing instead of deleting
// keeps row numbering stable so previously returned refs never shift.
func (c *Client) Remove(ctx context.Context, ref string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	if strings.TrimSpace(ref) == "" {
		return errors.New("empty ledger ref")
	}

	_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, ref, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", ref, err)
	}
	return nil
}

// Refs scans the id column and rebuilds the expense id to row ref map.
func (c *Client) Refs(ctx context.Context) (map[string]string, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A:A", c.tab)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	refs := make(map[string]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id == "" || strings.HasPrefix(id, "#") {
			continue
		}
		refs[id] = rowRef(c.tab, i+1)
	}
	return refs, nil
}

// EnsureHeader writes the column header when the tab is empty. The leading #
// keeps Refs from mistaking it for an expense row. Used by the ledger-init
// utility, not by the workers.
func (c *Client) EnsureHeader(ctx context.Context) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A1:H1", c.tab)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s: %w", rng, err)
	}
	if len(resp.Values) > 0 {
		return nil
	}

	vr := &gsheet.ValueRange{Values: [][]any{{
		"#expense_id", "user_id", "date", "title", "amount", "paid_by", "split_with", "synced_at",
	}}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

func rowRef(tab string, row int) string {
	return fmt.Sprintf("%s!A%d:H%d", tab, row, row)
}

func joinParticipants(split []core.Participant) string {
	names := make([]string, len(split))
	for i, p := range split {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}
