package engine

import (
	"fmt"
	"time"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

const (
	// Pool growth below epsilon is rounding noise. Growth above the cap
	// is almost certainly our own deposit racing a missed cursor write,
	// not yield, so it is never booked as revenue.
	yieldEpsilon = 1e-6
	yieldCap     = 1.0
)

// Snapshot is everything the policy rules see for one cycle.
type Snapshot struct {
	Now      time.Time
	Balances domain.Balances

	// Open stakes in registry order. Only consulted when RegistryOK.
	Stakes     []domain.Stake
	RegistryOK bool

	// Pool cursor from the previous cycle, absent on the first run.
	LastPool    float64
	HasLastPool bool
}

// Rules is the tunable part of the fixed policy.
type Rules struct {
	IdleThreshold    float64
	LowGasThreshold  float64
	ResolutionBuffer time.Duration
}

// Evaluate runs the four policy rules in fixed order and returns this
// cycle's decisions. It is pure: all effects happen in the executor.
func Evaluate(snap Snapshot, rules Rules) []domain.Decision {
	var decisions []domain.Decision

	// 1. Yield detection: unexplained pool growth since the last cursor.
	if snap.HasLastPool {
		delta := snap.Balances.Pool - snap.LastPool
		if delta > yieldEpsilon && delta <= yieldCap {
			decisions = append(decisions, domain.Decision{
				Action: domain.ActionYieldSweep,
				Amount: delta,
				Reason: fmt.Sprintf("pool grew $%.6f since last cycle", delta),
			})
		}
	}

	// 2. Idle deployment: deposit everything above half the threshold.
	if snap.Balances.Stable > rules.IdleThreshold {
		amount := snap.Balances.Stable - rules.IdleThreshold/2
		decisions = append(decisions, domain.Decision{
			Action: domain.ActionPoolDeposit,
			Amount: amount,
			Reason: fmt.Sprintf("liquid stable $%.2f above idle threshold $%.2f",
				snap.Balances.Stable, rules.IdleThreshold),
		})
	}

	// 3. Resolution: settle every stake past its deadline, registry order.
	if snap.RegistryOK {
		for i := range snap.Stakes {
			st := snap.Stakes[i]
			if !st.Resolvable(snap.Now, rules.ResolutionBuffer) {
				continue
			}
			decisions = append(decisions, domain.Decision{
				Action: domain.ActionResolveStake,
				Amount: st.Forfeiture(),
				Reason: fmt.Sprintf("stake %s expired with %d failed day(s)", st.Key(), st.FailedDays()),
				Stake:  &st,
			})
		}
	}

	// 4. Gas watch: warn before the keeper strands itself.
	if snap.Balances.Native < rules.LowGasThreshold {
		decisions = append(decisions, domain.Decision{
			Action: domain.ActionLowGasAlert,
			Amount: snap.Balances.Native,
			Reason: fmt.Sprintf("gas balance %.4f below %.4f", snap.Balances.Native, rules.LowGasThreshold),
		})
	}

	return decisions
}
