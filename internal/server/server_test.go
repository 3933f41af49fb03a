package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/keeperlabs/stakekeeper/internal/adapters/ledger"
	"github.com/keeperlabs/stakekeeper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agentAddr = "0xCcCCcccCCCCcCCCCCCCcCcCccCcCCCcCcccccccC"

// --- fakes ---

type fakeChain struct {
	balances domain.Balances
	err      error
}

func (f *fakeChain) Balances(context.Context) (domain.Balances, error) {
	if f.err != nil {
		return domain.Balances{}, f.err
	}
	return f.balances, nil
}

func (f *fakeChain) Submit(context.Context, string, []byte, *big.Int) (string, error) {
	return "", nil
}
func (f *fakeChain) DepositPool(context.Context, float64) (string, error)  { return "", nil }
func (f *fakeChain) WithdrawPool(context.Context, float64) (string, error) { return "", nil }
func (f *fakeChain) Address() string                                       { return agentAddr }

type fakeRegistry struct {
	open map[string][]domain.Stake
	err  error
}

func (f *fakeRegistry) CandidateStakers(context.Context) ([]string, error) { return nil, nil }

func (f *fakeRegistry) OpenStakes(_ context.Context, staker string) ([]domain.Stake, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.open[staker], nil
}

func (f *fakeRegistry) StakesOf(ctx context.Context, staker string) ([]domain.Stake, error) {
	return f.OpenStakes(ctx, staker)
}

func (f *fakeRegistry) ResolveCalldata(string, uint64) ([]byte, error) { return nil, nil }

// --- harness ---

func newTestServer(t *testing.T, chain *fakeChain, reg *fakeRegistry) (*Server, *ledger.Store) {
	t.Helper()
	store, err := ledger.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := New(Config{
		Port:             0,
		AttestationPrice: 0.25,
		AttestationAsset: "USDC",
		Chain:            chain,
		Registry:         reg,
		Ledger:           store,
	})
	return srv, store
}

func doGET(t *testing.T, srv *Server, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

// --- endpoints ---

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChain{}, &fakeRegistry{})

	rr := doGET(t, srv, "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decode(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "stakekeeper", body["service"])
	assert.Equal(t, agentAddr, body["agent"])
}

func TestStatus_ReflectsRunState(t *testing.T) {
	ctx := context.Background()
	srv, store := newTestServer(t, &fakeChain{}, &fakeRegistry{})
	require.NoError(t, store.SetState(ctx, domain.StateCycleCount, "42"))
	require.NoError(t, store.SetState(ctx, domain.StateLastPoolBalance, "145.500000"))

	rr := doGET(t, srv, "/api/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decode(t, rr)
	assert.Equal(t, "42", body["cycles"])
	assert.Equal(t, "145.500000", body["last_pool_balance"])
	assert.Equal(t, agentAddr, body["agent"])
	assert.Contains(t, body, "uptime_seconds")
	assert.NotContains(t, body, "last_cycle_at") // never ran
}

func TestTreasury_AggregatesAndBalances(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{balances: domain.Balances{Native: 0.5, Stable: 20, Pool: 100}}
	srv, store := newTestServer(t, chain, &fakeRegistry{})

	now := time.Now().UTC()
	require.NoError(t, store.AppendRevenue(ctx, domain.RevenueEvent{
		Timestamp: now, Source: domain.RevenueLendingYield, Amount: 10,
	}))
	require.NoError(t, store.AppendCost(ctx, domain.CostEvent{
		Timestamp: now, Category: domain.CostCompute, Amount: 1,
	}))

	rr := doGET(t, srv, "/api/treasury", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decode(t, rr)
	assert.InDelta(t, 10, body["revenue"].(float64), 1e-9)
	assert.InDelta(t, 1, body["costs"].(float64), 1e-9)
	assert.InDelta(t, 9, body["profit"].(float64), 1e-9)

	balances := body["balances"].(map[string]any)
	assert.InDelta(t, 100, balances["pool"].(float64), 1e-9)

	bySource := body["by_source"].(map[string]any)
	assert.InDelta(t, 10, bySource["lending_yield"].(float64), 1e-9)
}

func TestTreasury_SurvivesChainOutage(t *testing.T) {
	chain := &fakeChain{err: &domain.ChainReadError{Op: "balances", Err: errors.New("rpc down")}}
	srv, _ := newTestServer(t, chain, &fakeRegistry{})

	rr := doGET(t, srv, "/api/treasury", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decode(t, rr)
	assert.Nil(t, body["balances"])
	assert.InDelta(t, 0, body["profit"].(float64), 1e-9)
}

func TestActions_LimitClamp(t *testing.T) {
	ctx := context.Background()
	srv, store := newTestServer(t, &fakeChain{}, &fakeRegistry{})

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAction(ctx, domain.ActionRecord{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Action:    domain.ActionYieldSweep,
			Success:   true,
		}))
	}

	rr := doGET(t, srv, "/api/actions?limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Len(t, body["actions"].([]any), 2)

	rr = doGET(t, srv, "/api/actions?limit=999999", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body = decode(t, rr)
	assert.Len(t, body["actions"].([]any), 5)

	rr = doGET(t, srv, "/api/actions?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doGET(t, srv, "/api/actions?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSeries_Cumulative(t *testing.T) {
	ctx := context.Background()
	srv, store := newTestServer(t, &fakeChain{}, &fakeRegistry{})

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendRevenue(ctx, domain.RevenueEvent{
		Timestamp: base, Source: domain.RevenueLendingYield, Amount: 10,
	}))
	require.NoError(t, store.AppendCost(ctx, domain.CostEvent{
		Timestamp: base.Add(time.Minute), Category: domain.CostCompute, Amount: 3,
	}))

	rr := doGET(t, srv, "/api/series", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	series := decode(t, rr)["series"].([]any)
	require.Len(t, series, 2)
	last := series[1].(map[string]any)
	assert.InDelta(t, 10, last["revenue"].(float64), 1e-9)
	assert.InDelta(t, 3, last["cost"].(float64), 1e-9)
}
