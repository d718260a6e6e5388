package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"romana/internal/core"
	authmw "romana/internal/middleware/auth"
)

type expenseRequest struct {
	Title     string   `json:"title"`
	Amount    float64  `json:"amount"`
	Date      string   `json:"date"`
	PaidBy    string   `json:"paid_by"`
	SplitWith []string `json:"split_with"`
}

type expenseResponse struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Amount    float64            `json:"amount"`
	Date      core.Date          `json:"date"`
	PaidBy    core.Participant   `json:"paid_by"`
	SplitWith []core.Participant `json:"split_with"`
	CreatedAt time.Time          `json:"created_at"`
}

func toExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:        e.ID,
		Title:     e.Title,
		Amount:    e.Amount.Amount(),
		Date:      e.Date,
		PaidBy:    e.PaidBy,
		SplitWith: e.SplitWith,
		CreatedAt: e.CreatedAt,
	}
}

// expenseFromRequest maps the wire shape onto the domain type. The "You"
// alias in paid_by and split_with becomes the self participant here, at
// the boundary; everything below works with the discriminated form.
func expenseFromRequest(req expenseRequest) (core.Expense, error) {
	cents, err := core.CentsFromFloat(req.Amount)
	if err != nil {
		return core.Expense{}, err
	}

	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Expense{}, err
	}

	split := make([]core.Participant, 0, len(req.SplitWith))
	for _, name := range req.SplitWith {
		split = append(split, core.ParseParticipant(name))
	}

	return core.Expense{
		Title:     strings.TrimSpace(req.Title),
		Amount:    core.Money{Cents: cents},
		Date:      date,
		PaidBy:    core.ParseParticipant(req.PaidBy),
		SplitWith: split,
	}, nil
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)

	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	expense, err := expenseFromRequest(req)
	if err != nil {
		writeError(ctx, w, http.StatusUnprocessableEntity, codeValidationFailed, err.Error())
		return
	}

	created, err := s.expenses.Create(ctx, userID, expense)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	s.metrics.ExpenseCreated()

	slog.InfoContext(ctx, "Expense created",
		"user_id", userID,
		"expense_id", created.ID,
		"amount_cents", created.Amount.Cents,
		"split_count", len(created.SplitWith))

	writeJSON(ctx, w, http.StatusCreated, toExpenseResponse(created))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)

	expenses, err := s.expenses.List(ctx, userID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseResponse(e))
	}
	writeJSON(ctx, w, http.StatusOK, out)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)

	expense, err := s.expenses.Get(ctx, userID, r.PathValue("id"))
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, toExpenseResponse(expense))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)
	id := r.PathValue("id")

	if err := s.expenses.Delete(ctx, userID, id); err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	s.metrics.ExpenseDeleted()

	slog.InfoContext(ctx, "Expense deleted",
		"user_id", userID,
		"expense_id", id)

	w.WriteHeader(http.StatusNoContent)
}
