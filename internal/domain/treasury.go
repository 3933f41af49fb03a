package domain

import "time"

// Balances is a point-in-time view of the treasury across its three pockets.
// All figures are display units (USDC for stable pockets, gas token for
// native).
type Balances struct {
	Native float64 // gas token held by the agent wallet
	Stable float64 // liquid USDC held by the agent wallet
	Pool   float64 // USDC deployed in the lending pool
}

// TotalStable is liquid plus deployed stable value.
func (b Balances) TotalStable() float64 {
	return b.Stable + b.Pool
}

// ActionType tags every action the agent attempts, transactional or not.
type ActionType string

const (
	ActionYieldSweep       ActionType = "yield_sweep"
	ActionPoolDeposit      ActionType = "pool_deposit"
	ActionPoolWithdraw     ActionType = "pool_withdraw"
	ActionResolveStake     ActionType = "resolve_stake"
	ActionLowGasAlert      ActionType = "low_gas_alert"
	ActionAdvisoryDeposit  ActionType = "advisory_deposit"
	ActionAdvisoryWithdraw ActionType = "advisory_withdraw"
	ActionTreasuryWithdraw ActionType = "treasury_withdraw"
)

// Decision is one action the policy engine (or the advisor) wants executed
// this cycle. Decisions live only in memory; the ledger records their
// outcome, never the decision itself.
type Decision struct {
	Action ActionType
	Reason string
	Amount float64 // stable units where the action moves funds
	Stake  *Stake  // set for resolve_stake only
}

// ActionRecord is the append-only audit row for one attempted action.
// Failures are recorded too, with a sanitized reason in Description.
type ActionRecord struct {
	ID           string // UUID, generated locally
	Timestamp    time.Time
	Action       ActionType
	Description  string
	TxID         string // tx hash when a transaction was submitted
	StableAmount float64
	NativeAmount float64
	Success      bool
}

// RevenueSource classifies treasury income.
type RevenueSource string

const (
	RevenueLendingYield   RevenueSource = "lending_yield"
	RevenueTreasurySlash  RevenueSource = "treasury_slash"
	RevenueAttestationFee RevenueSource = "attestation_fee"
)

// RevenueEvent is one append-only income row, in stable units.
type RevenueEvent struct {
	ID          int64
	Timestamp   time.Time
	Source      RevenueSource
	Amount      float64
	TxID        string
	Description string
}

// CostCategory classifies operating spend.
type CostCategory string

const (
	CostModelInference CostCategory = "model_inference"
	CostCompute        CostCategory = "compute"
)

// CostEvent is one append-only spend row, in stable units.
type CostEvent struct {
	ID          int64
	Timestamp   time.Time
	Category    CostCategory
	Amount      float64
	TxID        string
	Description string
}

// ResolvedStake is the agent's own record of a stake it settled. The contract
// zeroes settled entries, so this log is what backs historical attestations.
type ResolvedStake struct {
	ID           int64
	Timestamp    time.Time
	Staker       string
	StakeID      uint64
	Amount       float64
	Asset        AssetKind
	DurationDays uint32
	SuccessDays  uint32
	Forfeited    float64
	TxID         string
}

// SeriesPoint is one step of the cumulative revenue/cost curve.
type SeriesPoint struct {
	Timestamp time.Time
	Revenue   float64 // cumulative
	Cost      float64 // cumulative
}

// AdviceAction is the advisor's verb. Anything else fails validation.
type AdviceAction string

const (
	AdviceNone     AdviceAction = "none"
	AdviceDeposit  AdviceAction = "deposit"
	AdviceWithdraw AdviceAction = "withdraw"
)

// Advice is a validated rebalance suggestion from the advisory model.
type Advice struct {
	Action AdviceAction
	Amount float64
	Reason string
}

// AdvisoryOutcome reports one advisor attempt. Completed means the request
// reached the provider and is billable regardless of whether the reply
// survived validation.
type AdvisoryOutcome struct {
	Advice    *Advice
	Completed bool
}

// CycleReport summarizes one finished cycle for notifiers.
type CycleReport struct {
	Cycle      int64
	Timestamp  time.Time
	Balances   Balances
	OpenStakes int
	Yield      float64 // lending yield detected this cycle, 0 if none
	Executed   []ActionRecord
	DryRun     bool
	Duration   time.Duration
}

// Run-state keys persisted between cycles. These are the agent's only
// cursors; everything else is re-read from chain or ledger.
const (
	StateCycleCount      = "cycle_count"
	StateLastCycleAt     = "last_cycle_at"
	StateLastPoolBalance = "last_pool_balance"
	StateLastAdviceAt    = "last_advice_at"
)
