package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/keeperlabs/stakekeeper/internal/domain"
	"github.com/keeperlabs/stakekeeper/internal/ports"
)

const (
	defaultInterval         = 5 * time.Minute
	defaultResolutionBuffer = time.Hour
	defaultAdvisoryInterval = time.Hour
)

// Config holds the knobs for the keeper loop.
type Config struct {
	Interval         time.Duration
	IdleThreshold    float64
	LowGasThreshold  float64
	TreasuryFloor    float64
	ResolutionBuffer time.Duration
	ComputeCost      float64

	AdvisoryEnabled  bool
	AdvisoryInterval time.Duration
	AdvisoryCost     float64

	// StakingContract receives the resolution calls built by the registry.
	StakingContract string

	DryRun   bool
	StopFile string
}

// Engine drives the treasury cycle: observe, decide, advise, execute, account.
type Engine struct {
	chain    ports.ChainGateway
	registry ports.StakeRegistry
	ledger   ports.Ledger
	advisor  ports.Advisor
	notify   ports.Notifier
	cfg      Config
}

// New wires the engine. advisor may be nil when advisory is disabled.
func New(chain ports.ChainGateway, registry ports.StakeRegistry, ledger ports.Ledger, advisor ports.Advisor, notify ports.Notifier, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ResolutionBuffer <= 0 {
		cfg.ResolutionBuffer = defaultResolutionBuffer
	}
	if cfg.AdvisoryInterval <= 0 {
		cfg.AdvisoryInterval = defaultAdvisoryInterval
	}
	return &Engine{
		chain:    chain,
		registry: registry,
		ledger:   ledger,
		advisor:  advisor,
		notify:   notify,
		cfg:      cfg,
	}
}

// Run executes cycles until ctx is cancelled. The first cycle starts
// immediately; later ones follow the ticker. Cycles never overlap: a
// slow cycle simply absorbs the ticks it missed.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	slog.Info("engine: started", "interval", e.cfg.Interval, "dry_run", e.cfg.DryRun)
	e.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine: stopped (signal)")
			return
		case <-ticker.C:
			if e.stopRequested() {
				slog.Info("engine: stop file detected, shutting down")
				return
			}
			e.runCycle(ctx)
		}
	}
}

func (e *Engine) stopRequested() bool {
	if e.cfg.StopFile == "" {
		return false
	}
	if _, err := os.Stat(e.cfg.StopFile); err != nil {
		return false
	}
	os.Remove(e.cfg.StopFile)
	return true
}

func (e *Engine) runCycle(ctx context.Context) {
	report, err := e.RunOnce(ctx)
	if err != nil {
		slog.Error("engine: cycle failed", "err", err)
		return
	}
	if err := e.notify.CycleSummary(ctx, *report); err != nil {
		slog.Warn("engine: notify failed", "err", err)
	}
}

// RunOnce executes a single treasury cycle. Orchestrates: observe →
// decide → advise → execute → account.
func (e *Engine) RunOnce(ctx context.Context) (*domain.CycleReport, error) {
	started := time.Now()

	// 1. Observe: balances and open stakes in parallel.
	var (
		wg       sync.WaitGroup
		balances domain.Balances
		balErr   error
		stakes   []domain.Stake
		regErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		balances, balErr = e.chain.Balances(ctx)
	}()
	go func() {
		defer wg.Done()
		stakes, regErr = e.collectOpenStakes(ctx)
	}()
	wg.Wait()

	if balErr != nil {
		// Without balances every rule is blind; retry next tick.
		return nil, fmt.Errorf("engine.RunOnce: balances: %w", balErr)
	}
	if regErr != nil {
		slog.Warn("engine: registry read failed, resolution skipped this cycle", "err", regErr)
	}

	snap := Snapshot{
		Now:        started,
		Balances:   balances,
		Stakes:     stakes,
		RegistryOK: regErr == nil,
	}
	snap.LastPool, snap.HasLastPool = e.loadFloatState(ctx, domain.StateLastPoolBalance)

	// 2. Decide: the four fixed rules.
	decisions := Evaluate(snap, Rules{
		IdleThreshold:    e.cfg.IdleThreshold,
		LowGasThreshold:  e.cfg.LowGasThreshold,
		ResolutionBuffer: e.cfg.ResolutionBuffer,
	})

	// 3. Advise: ask the model only when the rules left the pool alone.
	decisions = e.maybeAdvise(ctx, snap, decisions)

	// 4. Execute: realize decisions in order; one failure never stops the rest.
	trackedPool := balances.Pool
	executed := e.executeAll(ctx, decisions, &trackedPool)

	// 5. Account: cursors plus the fixed cycle cost.
	cycle := e.settleCycle(ctx, started, trackedPool)

	return &domain.CycleReport{
		Cycle:      cycle,
		Timestamp:  started,
		Balances:   balances,
		OpenStakes: len(stakes),
		Yield:      yieldAmount(decisions),
		Executed:   executed,
		DryRun:     e.cfg.DryRun,
		Duration:   time.Since(started),
	}, nil
}

// collectOpenStakes walks the candidate stakers and concatenates their
// open stakes, preserving registry order.
func (e *Engine) collectOpenStakes(ctx context.Context) ([]domain.Stake, error) {
	stakers, err := e.registry.CandidateStakers(ctx)
	if err != nil {
		return nil, err
	}
	var stakes []domain.Stake
	for _, staker := range stakers {
		open, err := e.registry.OpenStakes(ctx, staker)
		if err != nil {
			return nil, err
		}
		stakes = append(stakes, open...)
	}
	return stakes, nil
}

func yieldAmount(decisions []domain.Decision) float64 {
	for _, d := range decisions {
		if d.Action == domain.ActionYieldSweep {
			return d.Amount
		}
	}
	return 0
}
