package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/keeperlabs/stakekeeper/internal/adapters/ledger"
	"github.com/keeperlabs/stakekeeper/internal/domain"
	"github.com/keeperlabs/stakekeeper/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type submitCall struct {
	contract string
	calldata []byte
}

type fakeChain struct {
	balances    domain.Balances
	balancesErr error

	depositErr  error
	withdrawErr error
	submitErr   error

	deposits  []float64
	withdraws []float64
	submits   []submitCall
}

func (f *fakeChain) Balances(context.Context) (domain.Balances, error) {
	if f.balancesErr != nil {
		return domain.Balances{}, f.balancesErr
	}
	return f.balances, nil
}

func (f *fakeChain) Submit(_ context.Context, contract string, calldata []byte, _ *big.Int) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits = append(f.submits, submitCall{contract: contract, calldata: calldata})
	return "0xresolve", nil
}

func (f *fakeChain) DepositPool(_ context.Context, amount float64) (string, error) {
	if f.depositErr != nil {
		return "", f.depositErr
	}
	f.deposits = append(f.deposits, amount)
	return "0xdeposit", nil
}

func (f *fakeChain) WithdrawPool(_ context.Context, amount float64) (string, error) {
	if f.withdrawErr != nil {
		return "", f.withdrawErr
	}
	f.withdraws = append(f.withdraws, amount)
	return "0xwithdraw", nil
}

func (f *fakeChain) Address() string { return "0xagent" }

type fakeRegistry struct {
	stakers []string
	stakes  map[string][]domain.Stake
	err     error
}

func (f *fakeRegistry) CandidateStakers(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stakers, nil
}

func (f *fakeRegistry) OpenStakes(_ context.Context, staker string) ([]domain.Stake, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stakes[staker], nil
}

func (f *fakeRegistry) StakesOf(ctx context.Context, staker string) ([]domain.Stake, error) {
	return f.OpenStakes(ctx, staker)
}

func (f *fakeRegistry) ResolveCalldata(string, uint64) ([]byte, error) {
	return []byte{0xde, 0xad}, nil
}

type fakeAdvisor struct {
	outcome domain.AdvisoryOutcome
	err     error
	calls   int
	lastReq ports.AdvisoryRequest
}

func (f *fakeAdvisor) Rebalance(_ context.Context, req ports.AdvisoryRequest) (domain.AdvisoryOutcome, error) {
	f.calls++
	f.lastReq = req
	return f.outcome, f.err
}

type fakeNotifier struct {
	mu        sync.Mutex
	alerts    []string
	summaries int
}

func (f *fakeNotifier) CycleSummary(context.Context, domain.CycleReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries++
	return nil
}

func (f *fakeNotifier) Alert(_ context.Context, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, subject+": "+body)
	return nil
}

func (f *fakeNotifier) summaryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaries
}

// --- harness ---

type fixture struct {
	chain    *fakeChain
	registry *fakeRegistry
	store    *ledger.Store
	advisor  *fakeAdvisor
	notify   *fakeNotifier
	engine   *Engine
}

func newFixture(t *testing.T, cfg Config, chain *fakeChain, reg *fakeRegistry) *fixture {
	t.Helper()
	store, err := ledger.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 10
	}
	if cfg.LowGasThreshold == 0 {
		cfg.LowGasThreshold = 0.005
	}
	if cfg.ComputeCost == 0 {
		cfg.ComputeCost = 0.001
	}
	if cfg.StakingContract == "" {
		cfg.StakingContract = "0xstaking"
	}
	adv := &fakeAdvisor{}
	ntf := &fakeNotifier{}
	eng := New(chain, reg, store, adv, ntf, cfg)
	return &fixture{chain: chain, registry: reg, store: store, advisor: adv, notify: ntf, engine: eng}
}

func quietChain() *fakeChain {
	return &fakeChain{balances: domain.Balances{Native: 1, Stable: 5, Pool: 100}}
}

func emptyRegistry() *fakeRegistry {
	return &fakeRegistry{}
}

// --- cycle accounting ---

func TestRunOnce_FirstCycleSetsCursor(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{}, quietChain(), emptyRegistry())

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Cycle)
	assert.Empty(t, report.Executed)
	assert.Zero(t, report.Yield)

	cursor, ok, err := fx.store.GetState(ctx, domain.StateLastPoolBalance)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "100.000000", cursor)

	count, ok, err := fx.store.GetState(ctx, domain.StateCycleCount)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", count)

	lastAt, ok, err := fx.store.GetState(ctx, domain.StateLastCycleAt)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, lastAt)
	assert.NoError(t, err)

	costs, err := fx.store.CostsByCategory(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, costs["compute"], 1e-9)
}

func TestRunOnce_ComputeCostPerCycle(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{}, quietChain(), emptyRegistry())

	_, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.Cycle)
	total, err := fx.store.TotalCosts(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.002, total, 1e-9)
}

// --- yield and deposits ---

func TestRunOnce_YieldSweep(t *testing.T) {
	ctx := context.Background()
	chain := quietChain()
	chain.balances.Pool = 100.5
	fx := newFixture(t, Config{}, chain, emptyRegistry())
	require.NoError(t, fx.store.SetState(ctx, domain.StateLastPoolBalance, "100.000000"))

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, report.Yield, 1e-9)
	require.Len(t, report.Executed, 1)
	assert.Equal(t, domain.ActionYieldSweep, report.Executed[0].Action)
	assert.True(t, report.Executed[0].Success)
	assert.Empty(t, report.Executed[0].TxID)

	revenue, err := fx.store.RevenueBySource(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, revenue["lending_yield"], 1e-9)

	cursor, _, err := fx.store.GetState(ctx, domain.StateLastPoolBalance)
	require.NoError(t, err)
	assert.Equal(t, "100.500000", cursor)
}

func TestRunOnce_DepositAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	chain := quietChain()
	chain.balances.Stable = 50
	fx := newFixture(t, Config{}, chain, emptyRegistry())

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, report.Executed, 1)
	rec := report.Executed[0]
	assert.Equal(t, domain.ActionPoolDeposit, rec.Action)
	assert.True(t, rec.Success)
	assert.Equal(t, "0xdeposit", rec.TxID)
	assert.InDelta(t, 45, rec.StableAmount, 1e-9)
	require.Len(t, fx.chain.deposits, 1)

	// The cursor already includes our own deposit, so the next cycle
	// must not mistake it for yield.
	cursor, _, err := fx.store.GetState(ctx, domain.StateLastPoolBalance)
	require.NoError(t, err)
	assert.Equal(t, "145.000000", cursor)

	fx.chain.balances = domain.Balances{Native: 1, Stable: 5, Pool: 145}
	report, err = fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Executed)
	assert.Zero(t, report.Yield)
}

func TestRunOnce_DepositFailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	chain := quietChain()
	chain.balances.Stable = 50
	chain.depositErr = &domain.ChainWriteError{
		Op: "send", Reason: "insufficient allowance", Err: errors.New("insufficient allowance"),
	}
	fx := newFixture(t, Config{}, chain, emptyRegistry())

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, report.Executed, 1)
	rec := report.Executed[0]
	assert.False(t, rec.Success)
	assert.Equal(t, "deposit failed: insufficient allowance", rec.Description)
	assert.Empty(t, rec.TxID)

	cursor, _, err := fx.store.GetState(ctx, domain.StateLastPoolBalance)
	require.NoError(t, err)
	assert.Equal(t, "100.000000", cursor)

	// The cycle still completed and billed its compute.
	total, err := fx.store.TotalCosts(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, total, 1e-9)
}

// --- failure isolation ---

func TestRunOnce_BalanceFailureSkipsCycle(t *testing.T) {
	ctx := context.Background()
	chain := quietChain()
	chain.balancesErr = &domain.ChainReadError{Op: "balances", Err: errors.New("rpc down")}
	fx := newFixture(t, Config{}, chain, emptyRegistry())

	_, err := fx.engine.RunOnce(ctx)
	require.Error(t, err)
	var readErr *domain.ChainReadError
	assert.ErrorAs(t, err, &readErr)

	_, ok, err := fx.store.GetState(ctx, domain.StateCycleCount)
	require.NoError(t, err)
	assert.False(t, ok)

	total, err := fx.store.TotalCosts(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRunOnce_RegistryFailureSkipsResolutionOnly(t *testing.T) {
	ctx := context.Background()
	chain := quietChain()
	chain.balances.Stable = 50
	reg := emptyRegistry()
	reg.err = &domain.ChainReadError{Op: "stake logs", Err: errors.New("filter timeout")}
	fx := newFixture(t, Config{}, chain, reg)

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, report.Executed, 1)
	assert.Equal(t, domain.ActionPoolDeposit, report.Executed[0].Action)
}

// --- resolution ---

func TestRunOnce_ResolvesExpiredStakes(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistry{
		stakers: []string{"0xaaa"},
		stakes: map[string][]domain.Stake{
			"0xaaa": {
				expiredStake(3, 100, domain.AssetStable, 7, 4),
				expiredStake(4, 2, domain.AssetNative, 7, 7),
			},
		},
	}
	fx := newFixture(t, Config{}, quietChain(), reg)

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, report.Executed, 2)
	for _, rec := range report.Executed {
		assert.Equal(t, domain.ActionResolveStake, rec.Action)
		assert.True(t, rec.Success)
		assert.Equal(t, "0xresolve", rec.TxID)
	}

	require.Len(t, fx.chain.submits, 2)
	assert.Equal(t, "0xstaking", fx.chain.submits[0].contract)
	assert.Equal(t, []byte{0xde, 0xad}, fx.chain.submits[0].calldata)

	history, err := fx.store.StakeHistory(ctx, "0xaaa")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.InDelta(t, 40, history[0].Forfeited, 1e-9)
	assert.Zero(t, history[1].Forfeited)

	revenue, err := fx.store.RevenueBySource(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 40, revenue["treasury_slash"], 1e-9)
	assert.NotContains(t, revenue, "lending_yield")
}

// --- gas watch ---

func TestRunOnce_LowGasAlert(t *testing.T) {
	ctx := context.Background()
	chain := quietChain()
	chain.balances.Native = 0.002
	fx := newFixture(t, Config{}, chain, emptyRegistry())

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, report.Executed, 1)
	rec := report.Executed[0]
	assert.Equal(t, domain.ActionLowGasAlert, rec.Action)
	assert.True(t, rec.Success)
	assert.Empty(t, rec.TxID)
	assert.InDelta(t, 0.002, rec.NativeAmount, 1e-9)

	require.Len(t, fx.notify.alerts, 1)
	assert.Contains(t, fx.notify.alerts[0], "low gas")
	assert.Empty(t, fx.chain.deposits)
	assert.Empty(t, fx.chain.submits)
}

// --- dry run ---

func TestRunOnce_DryRunTouchesNothing(t *testing.T) {
	ctx := context.Background()
	chain := quietChain()
	chain.balances.Stable = 50
	chain.balances.Native = 0.002
	fx := newFixture(t, Config{DryRun: true}, chain, emptyRegistry())

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, int64(1), report.Cycle)
	require.Len(t, report.Executed, 2)

	assert.Empty(t, fx.chain.deposits)
	assert.Empty(t, fx.notify.alerts)

	actions, err := fx.store.RecentActions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, actions)

	_, ok, err := fx.store.GetState(ctx, domain.StateCycleCount)
	require.NoError(t, err)
	assert.False(t, ok)
}

// --- excess withdrawal ---

func TestWithdrawExcess(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{TreasuryFloor: 25}, quietChain(), emptyRegistry())
	require.NoError(t, fx.store.SetState(ctx, domain.StateLastPoolBalance, "100.000000"))

	rec, err := fx.engine.WithdrawExcess(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, domain.ActionTreasuryWithdraw, rec.Action)
	assert.True(t, rec.Success)
	assert.InDelta(t, 75, rec.StableAmount, 1e-9)
	require.Len(t, fx.chain.withdraws, 1)
	assert.InDelta(t, 75, fx.chain.withdraws[0], 1e-9)

	cursor, _, err := fx.store.GetState(ctx, domain.StateLastPoolBalance)
	require.NoError(t, err)
	assert.Equal(t, "25.000000", cursor)

	actions, err := fx.store.RecentActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
}

func TestWithdrawExcess_NothingAboveFloor(t *testing.T) {
	ctx := context.Background()
	chain := quietChain()
	chain.balances.Pool = 20
	fx := newFixture(t, Config{TreasuryFloor: 25}, chain, emptyRegistry())

	rec, err := fx.engine.WithdrawExcess(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, fx.chain.withdraws)
}

// --- run loop ---

func TestRun_FirstCycleImmediateAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fx := newFixture(t, Config{Interval: time.Hour}, quietChain(), emptyRegistry())

	done := make(chan struct{})
	go func() {
		fx.engine.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return fx.notify.summaryCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}
