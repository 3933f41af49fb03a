package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// handleAttestation serves a paid discipline attestation for a wallet.
// The score blends on-chain open stakes with the keeper's resolution
// log. Payment is header based: every response names its price, and a
// request carrying a receipt gets the fee booked as revenue.
func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	wallet := chi.URLParam(r, "wallet")
	if !common.IsHexAddress(wallet) {
		s.writeError(w, http.StatusBadRequest, "malformed wallet address")
		return
	}
	normalized := common.HexToAddress(wallet).Hex()

	open, err := s.registry.OpenStakes(ctx, normalized)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "registry unavailable")
		return
	}
	resolved, err := s.ledger.StakeHistory(ctx, normalized)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}

	stats := domain.StakeStats{Wallet: normalized}
	for _, st := range open {
		stats.AddStake(st.DurationDays, st.SuccessDays)
	}
	for _, rs := range resolved {
		stats.AddStake(rs.DurationDays, rs.SuccessDays)
	}

	w.Header().Set("X-Payment-Amount", fmt.Sprintf("%.2f", s.attestationPrice))
	w.Header().Set("X-Payment-Asset", s.attestationAsset)
	w.Header().Set("X-Payment-Address", s.chain.Address())

	if receipt := r.Header.Get("X-Payment-Receipt"); receipt != "" {
		s.bookAttestationFee(r, normalized, receipt)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"wallet":       stats.Wallet,
		"score":        stats.DisciplineScore(),
		"stakes":       stats.Stakes,
		"total_days":   stats.TotalDays,
		"success_days": stats.SuccessDays,
		"generated_at": time.Now().UTC(),
	})
}

func (s *Server) bookAttestationFee(r *http.Request, wallet, receipt string) {
	ev := domain.RevenueEvent{
		Timestamp:   time.Now().UTC(),
		Source:      domain.RevenueAttestationFee,
		Amount:      s.attestationPrice,
		TxID:        receipt,
		Description: fmt.Sprintf("attestation for %s", wallet),
	}
	if err := s.ledger.AppendRevenue(r.Context(), ev); err != nil {
		slog.Error("server: attestation fee not booked", "wallet", wallet, "err", err)
	}
}
