package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// executeAll realizes the decisions one at a time. A chain failure is
// recorded against its own action and the rest of the batch still runs.
func (e *Engine) executeAll(ctx context.Context, decisions []domain.Decision, trackedPool *float64) []domain.ActionRecord {
	records := make([]domain.ActionRecord, 0, len(decisions))
	for _, d := range decisions {
		rec := e.executeOne(ctx, d, trackedPool)
		records = append(records, rec)
		if !e.cfg.DryRun {
			e.appendAction(ctx, rec)
		}
	}
	return records
}

func (e *Engine) executeOne(ctx context.Context, d domain.Decision, trackedPool *float64) domain.ActionRecord {
	rec := domain.ActionRecord{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Action:      d.Action,
		Description: d.Reason,
		Success:     true,
	}

	switch d.Action {
	case domain.ActionYieldSweep:
		// Bookkeeping only: the yield already sits in the pool.
		rec.StableAmount = d.Amount
		if !e.cfg.DryRun {
			e.appendRevenue(ctx, domain.RevenueEvent{
				Timestamp:   rec.Timestamp,
				Source:      domain.RevenueLendingYield,
				Amount:      d.Amount,
				Description: d.Reason,
			})
		}

	case domain.ActionPoolDeposit, domain.ActionAdvisoryDeposit:
		rec.StableAmount = d.Amount
		if e.cfg.DryRun {
			break
		}
		tx, err := e.chain.DepositPool(ctx, d.Amount)
		if err != nil {
			return failed(rec, "deposit", err)
		}
		rec.TxID = tx
		*trackedPool += d.Amount

	case domain.ActionPoolWithdraw, domain.ActionAdvisoryWithdraw, domain.ActionTreasuryWithdraw:
		rec.StableAmount = d.Amount
		if e.cfg.DryRun {
			break
		}
		tx, err := e.chain.WithdrawPool(ctx, d.Amount)
		if err != nil {
			return failed(rec, "withdraw", err)
		}
		rec.TxID = tx
		*trackedPool -= d.Amount

	case domain.ActionResolveStake:
		return e.resolveStake(ctx, d, rec)

	case domain.ActionLowGasAlert:
		rec.NativeAmount = d.Amount
		if !e.cfg.DryRun {
			if err := e.notify.Alert(ctx, "low gas", d.Reason); err != nil {
				slog.Warn("engine: alert delivery failed", "err", err)
			}
		}
	}

	return rec
}

// resolveStake submits the on-chain resolution and books the forfeiture.
func (e *Engine) resolveStake(ctx context.Context, d domain.Decision, rec domain.ActionRecord) domain.ActionRecord {
	st := d.Stake
	rec.StableAmount = d.Amount

	if e.cfg.DryRun {
		return rec
	}

	calldata, err := e.registry.ResolveCalldata(st.Staker, st.ID)
	if err != nil {
		return failed(rec, "resolve", err)
	}
	tx, err := e.chain.Submit(ctx, e.cfg.StakingContract, calldata, nil)
	if err != nil {
		return failed(rec, "resolve", err)
	}
	rec.TxID = tx

	e.appendResolved(ctx, domain.ResolvedStake{
		Timestamp:    rec.Timestamp,
		Staker:       st.Staker,
		StakeID:      st.ID,
		Amount:       st.Amount,
		Asset:        st.Asset,
		DurationDays: st.DurationDays,
		SuccessDays:  st.SuccessDays,
		Forfeited:    d.Amount,
		TxID:         tx,
	})
	if d.Amount > 0 {
		e.appendRevenue(ctx, domain.RevenueEvent{
			Timestamp:   rec.Timestamp,
			Source:      domain.RevenueTreasurySlash,
			Amount:      d.Amount,
			TxID:        tx,
			Description: fmt.Sprintf("forfeiture from %s", st.Key()),
		})
	}
	return rec
}

// failed marks the record with the sanitized failure reason.
func failed(rec domain.ActionRecord, step string, err error) domain.ActionRecord {
	reason := domain.SanitizeReason(err)
	var werr *domain.ChainWriteError
	if errors.As(err, &werr) {
		reason = werr.Reason
	}
	rec.Success = false
	rec.Description = step + " failed: " + reason
	slog.Warn("engine: action failed", "action", rec.Action, "reason", reason)
	return rec
}
