package ports

import (
	"context"
	"math/big"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// ChainGateway is the agent's only path to the chain: balance reads and
// transaction submission. It never retries and never waits for inclusion;
// the orchestrator owns retry policy through the next cycle.
type ChainGateway interface {
	// Balances reads the three treasury pockets concurrently. A failure of
	// any read fails the whole snapshot with a domain.ChainReadError.
	Balances(ctx context.Context) (domain.Balances, error)

	// Submit signs and broadcasts calldata to a contract, appending the
	// agent's attribution suffix. Returns the tx hash on submission
	// acknowledgment. Failures come back as domain.ChainWriteError.
	Submit(ctx context.Context, contract string, calldata []byte, value *big.Int) (string, error)

	// DepositPool moves liquid stable into the lending pool. Amount in
	// display units.
	DepositPool(ctx context.Context, amount float64) (string, error)

	// WithdrawPool pulls stable out of the lending pool back to the wallet.
	WithdrawPool(ctx context.Context, amount float64) (string, error)

	// Address is the agent wallet in hex form.
	Address() string
}
