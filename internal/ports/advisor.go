package ports

import (
	"context"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// AdvisoryRequest is the treasury context handed to the model.
type AdvisoryRequest struct {
	Balances   domain.Balances
	OpenStakes int
	Profit     float64
}

// Advisor asks an external model for a rebalance suggestion. Outcome.Completed
// tells the caller whether the attempt is billable; a nil Advice with a
// completed call means the reply failed validation and was discarded.
type Advisor interface {
	Rebalance(ctx context.Context, req AdvisoryRequest) (domain.AdvisoryOutcome, error)
}
