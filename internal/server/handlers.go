package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "stakekeeper",
		"agent":   s.chain.Address(),
	})
}

// handleStatus reports the loop's run_state scalars. The server shares
// nothing with the engine but the ledger, so a wedged loop shows up
// here as a stale last_cycle_at.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := map[string]any{
		"agent":          s.chain.Address(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	for key, field := range map[string]string{
		domain.StateCycleCount:      "cycles",
		domain.StateLastCycleAt:     "last_cycle_at",
		domain.StateLastPoolBalance: "last_pool_balance",
		domain.StateLastAdviceAt:    "last_advice_at",
	} {
		value, ok, err := s.ledger.GetState(ctx, key)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "state read failed")
			return
		}
		if ok {
			response[field] = value
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	revenue, err := s.ledger.TotalRevenue(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}
	costs, err := s.ledger.TotalCosts(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}
	bySource, err := s.ledger.RevenueBySource(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}
	byCategory, err := s.ledger.CostsByCategory(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}

	response := map[string]any{
		"revenue":     revenue,
		"costs":       costs,
		"profit":      revenue - costs,
		"by_source":   bySource,
		"by_category": byCategory,
	}

	// Live balances are best effort: the report stays useful with the
	// RPC endpoint down.
	if balances, err := s.chain.Balances(ctx); err == nil {
		response["balances"] = map[string]float64{
			"native": balances.Native,
			"stable": balances.Stable,
			"pool":   balances.Pool,
		}
	} else {
		response["balances"] = nil
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}
	if limit > s.maxPage {
		limit = s.maxPage
	}

	actions, err := s.ledger.RecentActions(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}

	items := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		items = append(items, map[string]any{
			"id":            a.ID,
			"ts":            a.Timestamp,
			"action":        a.Action,
			"description":   a.Description,
			"tx_id":         a.TxID,
			"stable_amount": a.StableAmount,
			"native_amount": a.NativeAmount,
			"success":       a.Success,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"actions": items})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	points, err := s.ledger.Series(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}

	items := make([]map[string]any, 0, len(points))
	for _, p := range points {
		items = append(items, map[string]any{
			"ts":      p.Timestamp,
			"revenue": p.Revenue,
			"cost":    p.Cost,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"series": items})
}
