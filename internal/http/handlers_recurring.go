package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"romana/internal/core"
	authmw "romana/internal/middleware/auth"
)

type recurringRequest struct {
	Title      string   `json:"title"`
	Amount     float64  `json:"amount"`
	PaidBy     string   `json:"paid_by"`
	SplitWith  []string `json:"split_with"`
	DayOfMonth int      `json:"day_of_month"`
}

type recurringResponse struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Amount     float64            `json:"amount"`
	PaidBy     core.Participant   `json:"paid_by"`
	SplitWith  []core.Participant `json:"split_with"`
	DayOfMonth int                `json:"day_of_month"`
	Active     bool               `json:"active"`
	LastRun    *core.Date         `json:"last_run,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

func toRecurringResponse(re core.RecurringExpense) recurringResponse {
	resp := recurringResponse{
		ID:         re.ID,
		Title:      re.Title,
		Amount:     re.Amount.Amount(),
		PaidBy:     re.PaidBy,
		SplitWith:  re.SplitWith,
		DayOfMonth: re.DayOfMonth,
		Active:     re.Active,
		CreatedAt:  re.CreatedAt,
	}
	if !re.LastRun.IsZero() {
		lastRun := re.LastRun
		resp.LastRun = &lastRun
	}
	return resp
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)

	var req recurringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	cents, err := core.CentsFromFloat(req.Amount)
	if err != nil {
		writeError(ctx, w, http.StatusUnprocessableEntity, codeValidationFailed, err.Error())
		return
	}

	split := make([]core.Participant, 0, len(req.SplitWith))
	for _, name := range req.SplitWith {
		split = append(split, core.ParseParticipant(name))
	}

	rule := core.RecurringExpense{
		ID:         uuid.NewString(),
		Title:      strings.TrimSpace(req.Title),
		Amount:     core.Money{Cents: cents},
		PaidBy:     core.ParseParticipant(req.PaidBy),
		SplitWith:  split,
		DayOfMonth: req.DayOfMonth,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}

	if err := rule.Validate(); err != nil {
		writeError(ctx, w, http.StatusUnprocessableEntity, codeValidationFailed, err.Error())
		return
	}

	if err := s.backend.CreateRecurring(ctx, userID, rule); err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	slog.InfoContext(ctx, "Recurring rule created",
		"user_id", userID,
		"rule_id", rule.ID,
		"day_of_month", rule.DayOfMonth)

	writeJSON(ctx, w, http.StatusCreated, toRecurringResponse(rule))
}

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)

	rules, err := s.backend.ListRecurring(ctx, userID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	out := make([]recurringResponse, 0, len(rules))
	for _, re := range rules {
		out = append(out, toRecurringResponse(re))
	}
	writeJSON(ctx, w, http.StatusOK, out)
}

func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)
	id := r.PathValue("id")

	if err := s.backend.DeleteRecurring(ctx, userID, id); err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	slog.InfoContext(ctx, "Recurring rule removed",
		"user_id", userID,
		"rule_id", id)

	w.WriteHeader(http.StatusNoContent)
}
