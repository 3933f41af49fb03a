package domain

import "math"

// maturityWindowDays is how much history earns the full confidence weight.
const maturityWindowDays = 30

// StakeStats aggregates a wallet's goal history: resolved stakes from the
// agent's own log plus whatever open stakes the contract still reports.
type StakeStats struct {
	Wallet      string
	Stakes      int
	TotalDays   int
	SuccessDays int
}

// AddStake folds one stake's day counts into the stats.
func (st *StakeStats) AddStake(durationDays, successDays uint32) {
	st.Stakes++
	st.TotalDays += int(durationDays)
	st.SuccessDays += int(successDays)
}

// SuccessRate is successful days over committed days, 0 with no history.
func (st StakeStats) SuccessRate() float64 {
	if st.TotalDays <= 0 {
		return 0
	}
	return float64(st.SuccessDays) / float64(st.TotalDays)
}

// Maturity scales confidence by history depth: 0.5 for a fresh wallet,
// rising linearly to 1.0 at 30 tracked days.
func (st StakeStats) Maturity() float64 {
	frac := float64(st.TotalDays) / maturityWindowDays
	if frac > 1 {
		frac = 1
	}
	return 0.5 + 0.5*frac
}

// DisciplineScore is the 0-100 attestation figure:
// round(successRate × 100 × maturity). A wallet with no history scores 0.
func (st StakeStats) DisciplineScore() int {
	if st.TotalDays <= 0 {
		return 0
	}
	return int(math.Round(st.SuccessRate() * 100 * st.Maturity()))
}
