package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/keeperlabs/stakekeeper/internal/adapters/ledger"
	"github.com/keeperlabs/stakekeeper/internal/adapters/notify"
	"github.com/keeperlabs/stakekeeper/internal/application/engine"
	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// runReport renders the lifetime treasury picture from the ledger alone.
func runReport(ctx context.Context, store *ledger.Store, console *notify.Console) {
	revenue, err := store.TotalRevenue(ctx)
	if err != nil {
		slog.Error("failed to read revenue", "err", err)
		os.Exit(1)
	}
	costs, err := store.TotalCosts(ctx)
	if err != nil {
		slog.Error("failed to read costs", "err", err)
		os.Exit(1)
	}
	bySource, err := store.RevenueBySource(ctx)
	if err != nil {
		slog.Error("failed to read revenue breakdown", "err", err)
		os.Exit(1)
	}
	byCategory, err := store.CostsByCategory(ctx)
	if err != nil {
		slog.Error("failed to read cost breakdown", "err", err)
		os.Exit(1)
	}
	actions, err := store.RecentActions(ctx, 15)
	if err != nil {
		slog.Error("failed to read actions", "err", err)
		os.Exit(1)
	}

	r := notify.TreasuryReport{
		Revenue:    revenue,
		Costs:      costs,
		BySource:   bySource,
		ByCategory: byCategory,
		Actions:    actions,
	}
	if raw, ok, _ := store.GetState(ctx, domain.StateCycleCount); ok {
		r.CycleCount, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw, ok, _ := store.GetState(ctx, domain.StateLastCycleAt); ok {
		r.LastCycleAt, _ = time.Parse(time.RFC3339, raw)
	}

	console.PrintTreasuryReport(r)
}

// runWithdrawExcess performs the one-shot treasury withdrawal.
func runWithdrawExcess(ctx context.Context, eng *engine.Engine) {
	slog.Info("=== TREASURY WITHDRAWAL MODE ===")

	rec, err := eng.WithdrawExcess(ctx)
	if err != nil {
		slog.Error("withdrawal failed", "err", err)
		os.Exit(1)
	}
	if rec == nil {
		return // nothing above the floor, already logged
	}
	if !rec.Success {
		slog.Error("withdrawal transaction rejected", "reason", rec.Description)
		os.Exit(1)
	}
	slog.Info("treasury withdrawal submitted",
		"amount", fmt.Sprintf("$%.2f", rec.StableAmount),
		"tx", rec.TxID)
}
