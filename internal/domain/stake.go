package domain

import (
	"fmt"
	"time"
)

// AssetKind identifies the token a stake is denominated in, mirroring the
// uint8 asset code stored by the staking contract.
type AssetKind uint8

const (
	AssetStable AssetKind = 0 // USDC-class token, 6 decimals
	AssetNative AssetKind = 1 // chain gas token, 18 decimals
)

// ForfeitureRate is the share of principal kept by the treasury when a
// stable-asset stake ends with at least one failed day.
const ForfeitureRate = 0.4

func (a AssetKind) String() string {
	switch a {
	case AssetStable:
		return "stable"
	case AssetNative:
		return "native"
	default:
		return fmt.Sprintf("asset(%d)", uint8(a))
	}
}

// Stake is one goal commitment read from the staking contract. Amount is in
// display units of the asset (USDC for stable, gas token for native).
type Stake struct {
	Staker       string // hex address of the committing wallet
	ID           uint64 // index within the staker's stake array
	Amount       float64
	Asset        AssetKind
	Goal         uint64
	StartTime    time.Time
	DurationDays uint32
	SuccessDays  uint32
	Settled      bool
	Cohort       uint64
}

// Key returns a stable identifier for logs and dedup: "0xstaker#id".
func (s Stake) Key() string {
	return fmt.Sprintf("%s#%d", s.Staker, s.ID)
}

// ExpiresAt is the instant the commitment window closes.
func (s Stake) ExpiresAt() time.Time {
	return s.StartTime.Add(time.Duration(s.DurationDays) * 24 * time.Hour)
}

// Resolvable reports whether the stake can be settled now. The buffer keeps a
// safety margin after expiry so the final day's check-in is on-chain before we
// touch the stake.
func (s Stake) Resolvable(now time.Time, buffer time.Duration) bool {
	if s.Settled || s.Amount <= 0 {
		return false
	}
	return !now.Before(s.ExpiresAt().Add(buffer))
}

// FailedDays is the number of committed days without a successful check-in.
func (s Stake) FailedDays() uint32 {
	if s.SuccessDays >= s.DurationDays {
		return 0
	}
	return s.DurationDays - s.SuccessDays
}

// Forfeiture returns the treasury's cut when this stake is resolved. Only
// stable-asset stakes with failed days forfeit; native stakes always return
// to the staker in full.
func (s Stake) Forfeiture() float64 {
	if s.Asset != AssetStable || s.FailedDays() == 0 {
		return 0
	}
	return s.Amount * ForfeitureRate
}
