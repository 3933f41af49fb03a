package chain

// gateway.go — on-chain gateway for the treasury agent.
//
// Single signer, three concerns:
//   - balance snapshot (native + liquid stable + lending pool position)
//   - raw transaction submission with the attribution suffix appended
//   - startup ERC20 approval for the lending pool
//
// Submission returns on broadcast acknowledgment; nothing here waits for
// inclusion except the startup approval path. Retry policy belongs to the
// cycle orchestrator.

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/keeperlabs/stakekeeper/internal/domain"
)

const (
	// Token decimals: stable is USDC-class (6), native is the gas token (18).
	stableUnits = 1e6
	nativeUnits = 1e18

	// Gas limits (conservative upper bounds when estimation fails)
	submitGasLimit   = uint64(300_000)
	approvalGasLimit = uint64(80_000)

	// Gas price cache TTL
	gasPriceUpdateInterval = 5 * time.Minute
)

var (
	erc20ABI abi.ABI
	poolABI  abi.ABI
)

func init() {
	var err error

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}

	poolABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "deposit",
			"type": "function",
			"inputs": [{"name": "amount", "type": "uint256"}],
			"outputs": []
		},
		{
			"name": "withdraw",
			"type": "function",
			"inputs": [{"name": "amount", "type": "uint256"}],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("pool abi parse: " + err.Error())
	}
}

// Config wires the gateway to one chain and one wallet.
type Config struct {
	RPCURL          string
	PrivateKeyHex   string // with or without 0x prefix
	ChainID         int64
	StableToken     string // ERC20 the treasury is denominated in
	Pool            string // lending pool taking stable deposits
	AttributionCode string // ASCII tag appended to every tx
}

// Gateway implements ports.ChainGateway over a JSON-RPC endpoint.
type Gateway struct {
	client      *ethclient.Client
	privateKey  []byte
	address     common.Address
	chainID     *big.Int
	stableToken common.Address
	pool        common.Address
	suffix      []byte

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// New connects to the RPC endpoint and derives the agent address from the
// private key.
func New(cfg Config) (*Gateway, error) {
	pkBytes, err := hex.DecodeString(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: decode private key: %w", err)
	}

	privKey, err := crypto.ToECDSA(pkBytes)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc %s: %w", cfg.RPCURL, err)
	}

	return &Gateway{
		client:      client,
		privateKey:  pkBytes,
		address:     crypto.PubkeyToAddress(privKey.PublicKey),
		chainID:     big.NewInt(cfg.ChainID),
		stableToken: common.HexToAddress(cfg.StableToken),
		pool:        common.HexToAddress(cfg.Pool),
		suffix:      AttributionSuffix(cfg.AttributionCode),
	}, nil
}

// Address returns the agent wallet in hex form.
func (g *Gateway) Address() string {
	return g.address.Hex()
}

// Client exposes the underlying RPC client so other adapters can share the
// connection.
func (g *Gateway) Client() *ethclient.Client {
	return g.client
}

// Balances reads native, liquid stable and pool balances in parallel.
func (g *Gateway) Balances(ctx context.Context) (domain.Balances, error) {
	var (
		bal  domain.Balances
		errs [3]error
		wg   sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		wei, err := g.client.BalanceAt(ctx, g.address, nil)
		if err != nil {
			errs[0] = fmt.Errorf("native balance: %w", err)
			return
		}
		bal.Native = weiToFloat(wei, nativeUnits)
	}()
	go func() {
		defer wg.Done()
		raw, err := g.tokenBalance(ctx, g.stableToken)
		if err != nil {
			errs[1] = fmt.Errorf("stable balance: %w", err)
			return
		}
		bal.Stable = weiToFloat(raw, stableUnits)
	}()
	go func() {
		defer wg.Done()
		raw, err := g.tokenBalance(ctx, g.pool)
		if err != nil {
			errs[2] = fmt.Errorf("pool balance: %w", err)
			return
		}
		bal.Pool = weiToFloat(raw, stableUnits)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return domain.Balances{}, &domain.ChainReadError{Op: "balances", Err: err}
		}
	}
	return bal, nil
}

// tokenBalance calls balanceOf(agent) on an ERC20-shaped contract. The pool
// share token answers the same selector, so both pockets go through here.
func (g *Gateway) tokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	callData, err := erc20ABI.Pack("balanceOf", g.address)
	if err != nil {
		return nil, err
	}

	result, err := g.client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, err
	}

	vals, err := erc20ABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return big.NewInt(0), err
	}
	return vals[0].(*big.Int), nil
}

// Submit signs and broadcasts calldata with the attribution suffix appended.
// Returns the tx hash as soon as the node acknowledges the broadcast.
func (g *Gateway) Submit(ctx context.Context, contract string, calldata []byte, value *big.Int) (string, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	to := common.HexToAddress(contract)
	data := append(append([]byte{}, calldata...), g.suffix...)

	privKey, err := crypto.ToECDSA(g.privateKey)
	if err != nil {
		return "", g.writeErr("submit", err)
	}

	nonce, err := g.client.PendingNonceAt(ctx, g.address)
	if err != nil {
		return "", g.writeErr("nonce", err)
	}

	gasPrice, err := g.getGasPrice(ctx)
	if err != nil {
		return "", g.writeErr("gas price", err)
	}

	gasEstimate, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     g.address,
		To:       &to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		// Fall back to conservative limit
		gasEstimate = submitGasLimit
		slog.Warn("chain: gas estimate failed, using default", "err", err, "limit", submitGasLimit)
	}
	// Add 20% buffer
	gasEstimate = gasEstimate * 12 / 10

	tx := types.NewTransaction(nonce, to, value, gasEstimate, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), privKey)
	if err != nil {
		return "", g.writeErr("sign tx", err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return "", g.writeErr("send tx", err)
	}

	txHash := signedTx.Hash().Hex()
	slog.Info("chain: transaction submitted", "to", contract, "tx", txHash, "data_len", len(data))
	return txHash, nil
}

// DepositPool moves liquid stable into the lending pool.
func (g *Gateway) DepositPool(ctx context.Context, amount float64) (string, error) {
	callData, err := poolABI.Pack("deposit", floatToWei(amount, stableUnits))
	if err != nil {
		return "", g.writeErr("pack deposit", err)
	}
	return g.Submit(ctx, g.pool.Hex(), callData, nil)
}

// WithdrawPool pulls stable out of the lending pool.
func (g *Gateway) WithdrawPool(ctx context.Context, amount float64) (string, error) {
	callData, err := poolABI.Pack("withdraw", floatToWei(amount, stableUnits))
	if err != nil {
		return "", g.writeErr("pack withdraw", err)
	}
	return g.Submit(ctx, g.pool.Hex(), callData, nil)
}

// EnsureApproval checks the pool's stable-token allowance and sets a max
// approval when missing. Startup-only: this path waits for the receipt so
// the first cycle never races its own approval.
func (g *Gateway) EnsureApproval(ctx context.Context) error {
	allowance, err := g.erc20Allowance(ctx, g.pool)
	if err != nil {
		return fmt.Errorf("chain: check pool allowance: %w", err)
	}

	// 1M stable units is plenty of headroom before re-approving.
	minAllowance := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(stableUnits))
	if allowance.Cmp(minAllowance) >= 0 {
		slog.Debug("chain: pool allowance sufficient")
		return nil
	}

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	slog.Info("chain: approving stable token for pool", "pool", g.pool.Hex())

	callData, err := erc20ABI.Pack("approve", g.pool, maxUint256)
	if err != nil {
		return fmt.Errorf("chain: pack approve: %w", err)
	}

	txHash, err := g.Submit(ctx, g.stableToken.Hex(), callData, nil)
	if err != nil {
		return fmt.Errorf("chain: send approve: %w", err)
	}

	receiptCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	receipt, err := g.waitForReceipt(receiptCtx, common.HexToHash(txHash))
	if err != nil {
		return fmt.Errorf("chain: wait approve receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("chain: approve tx reverted: %s", txHash)
	}

	slog.Info("chain: pool approval set", "tx", txHash)
	return nil
}

// erc20Allowance queries the stable token's allowance for a spender.
func (g *Gateway) erc20Allowance(ctx context.Context, spender common.Address) (*big.Int, error) {
	callData, err := erc20ABI.Pack("allowance", g.address, spender)
	if err != nil {
		return nil, err
	}

	result, err := g.client.CallContract(ctx, ethereum.CallMsg{
		To:   &g.stableToken,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, err
	}

	vals, err := erc20ABI.Unpack("allowance", result)
	if err != nil || len(vals) == 0 {
		return big.NewInt(0), err
	}
	return vals[0].(*big.Int), nil
}

// getGasPrice returns the current gas price, cached to avoid hammering the
// RPC every submission.
func (g *Gateway) getGasPrice(ctx context.Context) (*big.Int, error) {
	g.mu.RLock()
	cached := g.cachedGasWei
	updatedAt := g.gasUpdatedAt
	g.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached, nil
	}

	price, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return big.NewInt(30_000_000_000), nil // 30 gwei fallback
	}

	// Add 10% buffer for faster inclusion (copy to avoid mutating SuggestGasPrice return)
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))
	price = buffered

	g.mu.Lock()
	g.cachedGasWei = price
	g.gasUpdatedAt = time.Now()
	g.mu.Unlock()

	return price, nil
}

// waitForReceipt polls for a transaction receipt until confirmed or timeout.
func (g *Gateway) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := g.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

// writeErr wraps a submission failure with a ledger-safe reason.
func (g *Gateway) writeErr(op string, err error) error {
	return &domain.ChainWriteError{Op: op, Reason: domain.SanitizeReason(err), Err: err}
}

// weiToFloat converts raw token units to display units.
func weiToFloat(raw *big.Int, units float64) float64 {
	f := new(big.Float).SetInt(raw)
	f.Quo(f, new(big.Float).SetFloat64(units))
	out, _ := f.Float64()
	return out
}

// floatToWei converts display units to raw token units, truncating dust.
func floatToWei(amount float64, units float64) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetFloat64(amount), new(big.Float).SetFloat64(units))
	out, _ := f.Int(nil)
	return out
}
