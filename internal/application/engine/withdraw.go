package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// WithdrawExcess pulls everything above the treasury floor out of the
// pool and back to the agent wallet. Used by the -withdraw-excess
// maintenance mode; it is never part of the automatic cycle.
func (e *Engine) WithdrawExcess(ctx context.Context) (*domain.ActionRecord, error) {
	balances, err := e.chain.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.WithdrawExcess: balances: %w", err)
	}

	excess := balances.Pool - e.cfg.TreasuryFloor
	if excess <= 0 {
		slog.Info("engine: nothing above the treasury floor",
			"pool", fmt.Sprintf("$%.2f", balances.Pool),
			"floor", fmt.Sprintf("$%.2f", e.cfg.TreasuryFloor))
		return nil, nil
	}

	trackedPool := balances.Pool
	rec := e.executeOne(ctx, domain.Decision{
		Action: domain.ActionTreasuryWithdraw,
		Amount: excess,
		Reason: fmt.Sprintf("pool $%.2f above treasury floor $%.2f", balances.Pool, e.cfg.TreasuryFloor),
	}, &trackedPool)

	if !e.cfg.DryRun {
		e.appendAction(ctx, rec)
		// Keep the yield cursor honest: the withdrawal is not negative yield.
		if rec.Success {
			if last, ok := e.loadFloatState(ctx, domain.StateLastPoolBalance); ok {
				e.saveState(ctx, domain.StateLastPoolBalance, strconv.FormatFloat(last-excess, 'f', 6, 64))
			}
		}
	}
	return &rec, nil
}
