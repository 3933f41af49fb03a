package ports

import (
	"context"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// Ledger is the append-only financial log plus the agent's run-state
// cursors. Financial rows are never updated or deleted; profit is always
// TotalRevenue minus TotalCosts, never derived from action rows.
type Ledger interface {
	// Appends
	AppendAction(ctx context.Context, a domain.ActionRecord) error
	AppendRevenue(ctx context.Context, r domain.RevenueEvent) error
	AppendCost(ctx context.Context, c domain.CostEvent) error
	AppendResolvedStake(ctx context.Context, r domain.ResolvedStake) error

	// Run state
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error

	// Aggregates
	TotalRevenue(ctx context.Context) (float64, error)
	TotalCosts(ctx context.Context) (float64, error)
	RevenueBySource(ctx context.Context) (map[string]float64, error)
	CostsByCategory(ctx context.Context) (map[string]float64, error)
	RecentActions(ctx context.Context, limit int) ([]domain.ActionRecord, error)
	Series(ctx context.Context) ([]domain.SeriesPoint, error)

	// StakeHistory returns the stakes this agent resolved for one wallet,
	// oldest first.
	StakeHistory(ctx context.Context, staker string) ([]domain.ResolvedStake, error)

	Close() error
}
