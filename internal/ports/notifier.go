package ports

import (
	"context"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// Notifier surfaces cycle outcomes and urgent conditions to a human.
// Notification failures are logged and swallowed; they never fail a cycle.
type Notifier interface {
	// CycleSummary reports one finished cycle.
	CycleSummary(ctx context.Context, report domain.CycleReport) error

	// Alert pushes an urgent condition (low gas, repeated failures).
	Alert(ctx context.Context, subject, body string) error
}
