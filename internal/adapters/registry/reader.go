package registry

// reader.go — staking contract reader.
//
// Two read paths:
//   - candidate discovery: StakeOpened logs over a trailing block window,
//     unioned with the static allow-list
//   - stake enumeration: stakeCount/getStake view calls per staker, paced
//     by a rate limiter so a long staker list cannot hammer the RPC
//
// All failures surface as domain.ChainReadError; the cycle decides what to
// skip.

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"github.com/keeperlabs/stakekeeper/internal/domain"
)

const (
	// registryCallsPerSecond paces view calls during stake enumeration.
	registryCallsPerSecond = 10

	// maxStakesPerStaker caps enumeration so a hostile contract count
	// cannot stall the cycle.
	maxStakesPerStaker = 128
)

var stakingABI abi.ABI

func init() {
	var err error
	stakingABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "StakeOpened",
			"type": "event",
			"inputs": [
				{"name": "staker", "type": "address", "indexed": true},
				{"name": "stakeId", "type": "uint256", "indexed": true},
				{"name": "amount", "type": "uint256", "indexed": false},
				{"name": "asset", "type": "uint8", "indexed": false},
				{"name": "startTime", "type": "uint64", "indexed": false},
				{"name": "durationDays", "type": "uint32", "indexed": false}
			]
		},
		{
			"name": "stakeCount",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "staker", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "getStake",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "staker", "type": "address"},
				{"name": "stakeId", "type": "uint256"}
			],
			"outputs": [
				{"name": "amount", "type": "uint256"},
				{"name": "asset", "type": "uint8"},
				{"name": "goal", "type": "uint256"},
				{"name": "startTime", "type": "uint64"},
				{"name": "durationDays", "type": "uint32"},
				{"name": "successDays", "type": "uint32"},
				{"name": "settled", "type": "bool"},
				{"name": "cohort", "type": "uint256"}
			]
		},
		{
			"name": "resolveStake",
			"type": "function",
			"inputs": [
				{"name": "staker", "type": "address"},
				{"name": "stakeId", "type": "uint256"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("staking abi parse: " + err.Error())
	}
}

// Backend is the slice of the RPC client the reader needs. *ethclient.Client
// satisfies it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader implements ports.StakeRegistry against one staking contract.
type Reader struct {
	backend   Backend
	contract  common.Address
	window    uint64
	allowlist []common.Address
	limiter   *rate.Limiter
}

// NewReader builds a reader scanning windowBlocks behind head for new
// stakers, always including the allow-list.
func NewReader(backend Backend, contract string, windowBlocks uint64, allowlist []string) *Reader {
	fixed := make([]common.Address, 0, len(allowlist))
	for _, a := range allowlist {
		if common.IsHexAddress(a) {
			fixed = append(fixed, common.HexToAddress(a))
		} else {
			slog.Warn("registry: skipping malformed allow-list entry", "entry", a)
		}
	}
	return &Reader{
		backend:   backend,
		contract:  common.HexToAddress(contract),
		window:    windowBlocks,
		allowlist: fixed,
		limiter:   rate.NewLimiter(rate.Limit(registryCallsPerSecond), registryCallsPerSecond),
	}
}

// CandidateStakers returns allow-list addresses first, then recent
// StakeOpened emitters in log order, deduplicated.
func (r *Reader) CandidateStakers(ctx context.Context) ([]string, error) {
	head, err := r.backend.BlockNumber(ctx)
	if err != nil {
		return nil, &domain.ChainReadError{Op: "block number", Err: err}
	}

	from := uint64(0)
	if head > r.window {
		from = head - r.window
	}

	logs, err := r.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		Addresses: []common.Address{r.contract},
		Topics:    [][]common.Hash{{stakingABI.Events["StakeOpened"].ID}},
	})
	if err != nil {
		return nil, &domain.ChainReadError{Op: "stake logs", Err: err}
	}

	seen := make(map[common.Address]bool, len(r.allowlist)+len(logs))
	out := make([]string, 0, len(r.allowlist)+len(logs))
	for _, addr := range r.allowlist {
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr.Hex())
		}
	}
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}
		addr := common.BytesToAddress(lg.Topics[1].Bytes())
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr.Hex())
		}
	}

	slog.Debug("registry: candidates gathered",
		"window_from", from,
		"logs", len(logs),
		"candidates", len(out),
	)
	return out, nil
}

// OpenStakes returns the staker's live commitments: amount > 0 and not
// settled.
func (r *Reader) OpenStakes(ctx context.Context, staker string) ([]domain.Stake, error) {
	all, err := r.StakesOf(ctx, staker)
	if err != nil {
		return nil, err
	}
	open := make([]domain.Stake, 0, len(all))
	for _, s := range all {
		if s.Amount > 0 && !s.Settled {
			open = append(open, s)
		}
	}
	return open, nil
}

// StakesOf enumerates every stake slot the contract reports for a wallet.
func (r *Reader) StakesOf(ctx context.Context, staker string) ([]domain.Stake, error) {
	addr := common.HexToAddress(staker)

	count, err := r.stakeCount(ctx, addr)
	if err != nil {
		return nil, &domain.ChainReadError{Op: "stake count", Err: err}
	}
	if count > maxStakesPerStaker {
		slog.Warn("registry: stake count capped", "staker", staker, "count", count, "cap", maxStakesPerStaker)
		count = maxStakesPerStaker
	}

	stakes := make([]domain.Stake, 0, count)
	for i := uint64(0); i < count; i++ {
		s, err := r.getStake(ctx, addr, i)
		if err != nil {
			return nil, &domain.ChainReadError{Op: fmt.Sprintf("get stake %s#%d", staker, i), Err: err}
		}
		stakes = append(stakes, s)
	}
	return stakes, nil
}

// ResolveCalldata packs resolveStake(staker, stakeId).
func (r *Reader) ResolveCalldata(staker string, stakeID uint64) ([]byte, error) {
	callData, err := stakingABI.Pack("resolveStake", common.HexToAddress(staker), new(big.Int).SetUint64(stakeID))
	if err != nil {
		return nil, fmt.Errorf("registry: pack resolveStake: %w", err)
	}
	return callData, nil
}

// Contract returns the staking contract address in hex form, for submitters.
func (r *Reader) Contract() string {
	return r.contract.Hex()
}

func (r *Reader) stakeCount(ctx context.Context, staker common.Address) (uint64, error) {
	callData, err := stakingABI.Pack("stakeCount", staker)
	if err != nil {
		return 0, err
	}
	result, err := r.call(ctx, callData)
	if err != nil {
		return 0, err
	}
	vals, err := stakingABI.Unpack("stakeCount", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("unpack stakeCount: %w", err)
	}
	return vals[0].(*big.Int).Uint64(), nil
}

func (r *Reader) getStake(ctx context.Context, staker common.Address, id uint64) (domain.Stake, error) {
	callData, err := stakingABI.Pack("getStake", staker, new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Stake{}, err
	}
	result, err := r.call(ctx, callData)
	if err != nil {
		return domain.Stake{}, err
	}
	vals, err := stakingABI.Unpack("getStake", result)
	if err != nil || len(vals) != 8 {
		return domain.Stake{}, fmt.Errorf("unpack getStake: %w", err)
	}

	asset := domain.AssetKind(vals[1].(uint8))
	return domain.Stake{
		Staker:       staker.Hex(),
		ID:           id,
		Amount:       rawAmount(vals[0].(*big.Int), asset),
		Asset:        asset,
		Goal:         vals[2].(*big.Int).Uint64(),
		StartTime:    time.Unix(int64(vals[3].(uint64)), 0).UTC(),
		DurationDays: vals[4].(uint32),
		SuccessDays:  vals[5].(uint32),
		Settled:      vals[6].(bool),
		Cohort:       vals[7].(*big.Int).Uint64(),
	}, nil
}

// call runs one paced view call against the staking contract.
func (r *Reader) call(ctx context.Context, data []byte) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
}

// rawAmount converts contract units to display units per asset.
func rawAmount(raw *big.Int, asset domain.AssetKind) float64 {
	units := 1e6
	if asset == domain.AssetNative {
		units = 1e18
	}
	f := new(big.Float).SetInt(raw)
	f.Quo(f, new(big.Float).SetFloat64(units))
	out, _ := f.Float64()
	return out
}
