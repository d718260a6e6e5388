package http

import (
	"context"
	"net/http"

	"romana/internal/core"
	authmw "romana/internal/middleware/auth"
)

// balanceSheet returns the user's balance sheet, computing and caching it
// on a miss. Writes invalidate the entry through the expense service hook,
// so a hit is never stale.
func (s *Server) balanceSheet(ctx context.Context, userID string) (core.BalanceSheet, error) {
	if sheet, ok := s.balances.Get(userID); ok {
		s.metrics.CacheHit()
		return sheet, nil
	}
	s.metrics.CacheMiss()

	expenses, err := s.expenses.List(ctx, userID)
	if err != nil {
		return core.BalanceSheet{}, err
	}

	sheet := core.ComputeBalances(expenses)
	s.metrics.BalanceComputed()
	s.balances.Set(userID, sheet)
	return sheet, nil
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := authmw.GetUserID(ctx)

	sheet, err := s.balanceSheet(ctx, userID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, sheet)
}
