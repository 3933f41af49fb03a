package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// settleCycle bumps the cycle counters, persists the pool cursor and
// books the fixed compute cost. Dry runs only report the would-be
// cycle number and leave the ledger untouched.
func (e *Engine) settleCycle(ctx context.Context, started time.Time, trackedPool float64) int64 {
	count, _ := e.loadIntState(ctx, domain.StateCycleCount)
	count++
	if e.cfg.DryRun {
		return count
	}

	e.saveState(ctx, domain.StateLastPoolBalance, strconv.FormatFloat(trackedPool, 'f', 6, 64))
	e.saveState(ctx, domain.StateCycleCount, strconv.FormatInt(count, 10))
	e.saveState(ctx, domain.StateLastCycleAt, started.UTC().Format(time.RFC3339))

	if e.cfg.ComputeCost > 0 {
		e.appendCost(ctx, domain.CostEvent{
			Timestamp:   started.UTC(),
			Category:    domain.CostCompute,
			Amount:      e.cfg.ComputeCost,
			Description: fmt.Sprintf("cycle %d", count),
		})
	}
	return count
}

// --- run_state accessors ---

func (e *Engine) loadFloatState(ctx context.Context, key string) (float64, bool) {
	raw, ok, err := e.ledger.GetState(ctx, key)
	if err != nil || !ok {
		if err != nil {
			slog.Warn("engine: state read failed", "key", key, "err", err)
		}
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("engine: corrupt state value", "key", key, "value", raw)
		return 0, false
	}
	return v, true
}

func (e *Engine) loadIntState(ctx context.Context, key string) (int64, bool) {
	raw, ok, err := e.ledger.GetState(ctx, key)
	if err != nil || !ok {
		if err != nil {
			slog.Warn("engine: state read failed", "key", key, "err", err)
		}
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("engine: corrupt state value", "key", key, "value", raw)
		return 0, false
	}
	return v, true
}

func (e *Engine) loadTimeState(ctx context.Context, key string) (time.Time, bool) {
	raw, ok, err := e.ledger.GetState(ctx, key)
	if err != nil || !ok {
		if err != nil {
			slog.Warn("engine: state read failed", "key", key, "err", err)
		}
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		slog.Warn("engine: corrupt state value", "key", key, "value", raw)
		return time.Time{}, false
	}
	return t, true
}

// --- ledger writers ---
//
// A ledger that stops accepting writes is an operator problem, not a
// reason to stop keeping the chain tidy. Failures surface at Error
// level and the cycle carries on.

func (e *Engine) saveState(ctx context.Context, key, value string) {
	if err := e.ledger.SetState(ctx, key, value); err != nil {
		slog.Error("engine: ledger write failed", "key", key, "err", err)
	}
}

func (e *Engine) appendAction(ctx context.Context, rec domain.ActionRecord) {
	if err := e.ledger.AppendAction(ctx, rec); err != nil {
		slog.Error("engine: ledger write failed", "err", err)
	}
}

func (e *Engine) appendRevenue(ctx context.Context, ev domain.RevenueEvent) {
	if err := e.ledger.AppendRevenue(ctx, ev); err != nil {
		slog.Error("engine: ledger write failed", "err", err)
	}
}

func (e *Engine) appendCost(ctx context.Context, ev domain.CostEvent) {
	if err := e.ledger.AppendCost(ctx, ev); err != nil {
		slog.Error("engine: ledger write failed", "err", err)
	}
}

func (e *Engine) appendResolved(ctx context.Context, rs domain.ResolvedStake) {
	if err := e.ledger.AppendResolvedStake(ctx, rs); err != nil {
		slog.Error("engine: ledger write failed", "err", err)
	}
}
