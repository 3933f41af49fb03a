package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keeperlabs/stakekeeper/internal/domain"
	"github.com/keeperlabs/stakekeeper/internal/ports"
)

// maybeAdvise consults the model for a rebalance suggestion. The gate
// only opens when the rules made no pool move this cycle and the
// advisory window has elapsed; the attempt consumes the window whether
// or not it produces advice.
func (e *Engine) maybeAdvise(ctx context.Context, snap Snapshot, decisions []domain.Decision) []domain.Decision {
	if !e.cfg.AdvisoryEnabled || e.advisor == nil || e.cfg.DryRun {
		return decisions
	}
	for _, d := range decisions {
		switch d.Action {
		case domain.ActionPoolDeposit, domain.ActionPoolWithdraw:
			return decisions // the rules already moved the pool
		}
	}
	if last, ok := e.loadTimeState(ctx, domain.StateLastAdviceAt); ok && snap.Now.Sub(last) < e.cfg.AdvisoryInterval {
		return decisions
	}

	e.saveState(ctx, domain.StateLastAdviceAt, snap.Now.UTC().Format(time.RFC3339))

	outcome, err := e.advisor.Rebalance(ctx, ports.AdvisoryRequest{
		Balances:   snap.Balances,
		OpenStakes: len(snap.Stakes),
		Profit:     e.lifetimeProfit(ctx),
	})
	// The provider bills completed calls even when the reply is unusable.
	if outcome.Completed && e.cfg.AdvisoryCost > 0 {
		e.appendCost(ctx, domain.CostEvent{
			Timestamp:   snap.Now.UTC(),
			Category:    domain.CostModelInference,
			Amount:      e.cfg.AdvisoryCost,
			Description: "rebalance advice",
		})
	}
	if err != nil {
		slog.Warn("engine: advisory call failed", "err", err)
		return decisions
	}
	if outcome.Advice == nil || outcome.Advice.Action == domain.AdviceNone {
		return decisions
	}

	adv := outcome.Advice
	action := domain.ActionAdvisoryDeposit
	if adv.Action == domain.AdviceWithdraw {
		action = domain.ActionAdvisoryWithdraw
	}
	slog.Info("engine: advisory accepted",
		"action", action,
		"amount", fmt.Sprintf("$%.2f", adv.Amount),
		"reason", adv.Reason)
	return append(decisions, domain.Decision{Action: action, Amount: adv.Amount, Reason: adv.Reason})
}

func (e *Engine) lifetimeProfit(ctx context.Context) float64 {
	revenue, err := e.ledger.TotalRevenue(ctx)
	if err != nil {
		slog.Warn("engine: revenue read failed", "err", err)
		return 0
	}
	costs, err := e.ledger.TotalCosts(ctx)
	if err != nil {
		slog.Warn("engine: cost read failed", "err", err)
		return 0
	}
	return revenue - costs
}
