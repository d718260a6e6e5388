package http

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"romana/internal/core"
	authmw "romana/internal/middleware/auth"
	"romana/internal/paylink"
)

type paylinkResponse struct {
	Friend  string       `json:"friend"`
	Balance float64      `json:"balance"`
	Amount  float64      `json:"amount"`
	Note    string       `json:"note"`
	Link    paylink.Link `json:"link"`
}

// resolvePaylink turns {name} plus optional amount/note query params into
// a payment link. The amount defaults to the open balance with that
// friend; an explicit amount allows partial settlements. Errors are
// written to w and reported by ok=false.
func (s *Server) resolvePaylink(w http.ResponseWriter, r *http.Request) (paylinkResponse, bool) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)
	name := r.PathValue("name")

	friend, err := s.backend.FriendByName(ctx, userID, name)
	if err != nil {
		writeDomainError(ctx, w, err)
		return paylinkResponse{}, false
	}

	if friend.Handle == "" {
		writeError(ctx, w, http.StatusUnprocessableEntity, codeValidationFailed,
			fmt.Sprintf("%s has no payment handle", friend.Name))
		return paylinkResponse{}, false
	}

	sheet, err := s.balanceSheet(ctx, userID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return paylinkResponse{}, false
	}
	balance := sheet.BalanceWith(friend.Name)

	amount := math.Abs(balance)
	if v := strings.TrimSpace(r.URL.Query().Get("amount")); v != "" {
		amount, err = strconv.ParseFloat(v, 64)
		if err != nil || amount <= 0 || math.IsInf(amount, 0) || math.IsNaN(amount) {
			writeError(ctx, w, http.StatusBadRequest, codeInvalidRequest, "invalid amount")
			return paylinkResponse{}, false
		}
	} else if amount <= core.Epsilon {
		writeError(ctx, w, http.StatusUnprocessableEntity, codeValidationFailed,
			fmt.Sprintf("all settled with %s, pass an explicit amount to pay anyway", friend.Name))
		return paylinkResponse{}, false
	}

	note := strings.TrimSpace(r.URL.Query().Get("note"))
	if note == "" {
		if balance < 0 {
			note = "Paying you back"
		} else {
			note = "Settle up"
		}
	}

	link, err := paylink.Build(friend.Handle, amount, note)
	if err != nil {
		// Handles are validated on create, so this is unexpected.
		slog.ErrorContext(ctx, "Failed to build payment link",
			"friend_id", friend.ID, "error", err)
		writeError(ctx, w, http.StatusInternalServerError, codeInternal, "internal error")
		return paylinkResponse{}, false
	}

	return paylinkResponse{
		Friend:  friend.Name,
		Balance: balance,
		Amount:  amount,
		Note:    note,
		Link:    link,
	}, true
}

func (s *Server) handlePaylink(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.resolvePaylink(w, r)
	if !ok {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

// handlePaylinkQR renders the same link as a PNG, for the friend across
// the table to scan.
func (s *Server) handlePaylinkQR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, ok := s.resolvePaylink(w, r)
	if !ok {
		return
	}

	width := 0
	if v := strings.TrimSpace(r.URL.Query().Get("width")); v != "" {
		width, _ = strconv.Atoi(v)
	}

	png, err := paylink.RenderQR(resp.Link.Payload, width)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to render QR code",
			"friend", resp.Friend, "error", err)
		writeError(ctx, w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
