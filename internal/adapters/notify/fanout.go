package notify

import (
	"context"

	"github.com/keeperlabs/stakekeeper/internal/domain"
	"github.com/keeperlabs/stakekeeper/internal/ports"
)

// Fanout delivers every notification to all targets. The first error
// is reported after all targets had their chance.
type Fanout []ports.Notifier

func (f Fanout) CycleSummary(ctx context.Context, r domain.CycleReport) error {
	var firstErr error
	for _, n := range f {
		if err := n.CycleSummary(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f Fanout) Alert(ctx context.Context, subject, body string) error {
	var firstErr error
	for _, n := range f {
		if err := n.Alert(ctx, subject, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
