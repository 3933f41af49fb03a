package ports

import (
	"context"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// StakeRegistry reads the staking contract.
type StakeRegistry interface {
	// CandidateStakers returns addresses worth scanning: recent StakeOpened
	// emitters over the configured block window, unioned with the static
	// allow-list. Order is deterministic (allow-list first), no duplicates.
	CandidateStakers(ctx context.Context) ([]string, error)

	// OpenStakes enumerates a staker's stakes and keeps the live ones
	// (amount > 0, not settled).
	OpenStakes(ctx context.Context, staker string) ([]domain.Stake, error)

	// StakesOf returns every stake slot the contract still reports for a
	// wallet, settled or not. Used for attestation history.
	StakesOf(ctx context.Context, staker string) ([]domain.Stake, error)

	// ResolveCalldata packs the settlement call for one stake, ready for
	// ChainGateway.Submit.
	ResolveCalldata(staker string, stakeID uint64) ([]byte, error)
}
