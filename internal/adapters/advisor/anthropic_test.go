package advisor

import (
	"context"
	"errors"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeperlabs/stakekeeper/internal/domain"
	"github.com/keeperlabs/stakekeeper/internal/ports"
)

// --- mocks ---

type fakeMessages struct {
	reply string
	err   error
	calls int
}

func (f *fakeMessages) New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &anthropicsdk.Message{
		Content: []anthropicsdk.ContentBlockUnion{{Type: "text", Text: f.reply}},
	}, nil
}

func makeAdvisor(msgs messagesAPI) *Anthropic {
	return &Anthropic{msgs: msgs, model: "claude-3-5-haiku-latest", maxTokens: 256}
}

func makeRequest() ports.AdvisoryRequest {
	return ports.AdvisoryRequest{
		Balances:   domain.Balances{Native: 0.1, Stable: 50, Pool: 200},
		OpenStakes: 3,
		Profit:     12.5,
	}
}

// --- tests ---

func TestRebalance_ValidDeposit(t *testing.T) {
	msgs := &fakeMessages{reply: `{"action":"deposit","amount":30,"reason":"idle stable earning nothing"}`}
	out, err := makeAdvisor(msgs).Rebalance(context.Background(), makeRequest())

	require.NoError(t, err)
	assert.True(t, out.Completed)
	require.NotNil(t, out.Advice)
	assert.Equal(t, domain.AdviceDeposit, out.Advice.Action)
	assert.InDelta(t, 30.0, out.Advice.Amount, 1e-9)
	assert.Equal(t, "idle stable earning nothing", out.Advice.Reason)
}

func TestRebalance_FencedJSONAccepted(t *testing.T) {
	msgs := &fakeMessages{reply: "```json\n{\"action\":\"withdraw\",\"amount\":50,\"reason\":\"pool too heavy\"}\n```"}
	out, err := makeAdvisor(msgs).Rebalance(context.Background(), makeRequest())

	require.NoError(t, err)
	require.NotNil(t, out.Advice)
	assert.Equal(t, domain.AdviceWithdraw, out.Advice.Action)
}

func TestRebalance_NoneIsValidAdvice(t *testing.T) {
	msgs := &fakeMessages{reply: `{"action":"none","amount":0,"reason":"split looks fine"}`}
	out, err := makeAdvisor(msgs).Rebalance(context.Background(), makeRequest())

	require.NoError(t, err)
	assert.True(t, out.Completed)
	require.NotNil(t, out.Advice)
	assert.Equal(t, domain.AdviceNone, out.Advice.Action)
}

func TestRebalance_UnknownActionRejectedButBillable(t *testing.T) {
	msgs := &fakeMessages{reply: `{"action":"yolo","amount":10,"reason":"send it"}`}
	out, err := makeAdvisor(msgs).Rebalance(context.Background(), makeRequest())

	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Nil(t, out.Advice)
}

func TestRebalance_DepositOverLiquidRejected(t *testing.T) {
	msgs := &fakeMessages{reply: `{"action":"deposit","amount":500,"reason":"all in"}`}
	out, err := makeAdvisor(msgs).Rebalance(context.Background(), makeRequest())

	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Nil(t, out.Advice)
}

func TestRebalance_WithdrawOverPoolRejected(t *testing.T) {
	msgs := &fakeMessages{reply: `{"action":"withdraw","amount":1000,"reason":"drain"}`}
	out, err := makeAdvisor(msgs).Rebalance(context.Background(), makeRequest())

	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Nil(t, out.Advice)
}

func TestRebalance_NonPositiveAmountRejected(t *testing.T) {
	msgs := &fakeMessages{reply: `{"action":"deposit","amount":-5,"reason":"negative"}`}
	out, err := makeAdvisor(msgs).Rebalance(context.Background(), makeRequest())

	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Nil(t, out.Advice)
}

func TestRebalance_GarbageReplyRejected(t *testing.T) {
	msgs := &fakeMessages{reply: "the treasury looks great, keep going!"}
	out, err := makeAdvisor(msgs).Rebalance(context.Background(), makeRequest())

	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Nil(t, out.Advice)
}

func TestRebalance_TransportFailureNotBillable(t *testing.T) {
	msgs := &fakeMessages{err: errors.New("dial tcp: connection refused")}
	out, err := makeAdvisor(msgs).Rebalance(context.Background(), makeRequest())

	require.Error(t, err)
	assert.False(t, out.Completed)
	assert.Nil(t, out.Advice)
	assert.Equal(t, 1, msgs.calls)
}

// --- parseAdvice ---

func TestParseAdvice_EmptyReasonGetsDefault(t *testing.T) {
	advice, err := parseAdvice(`{"action":"deposit","amount":10}`, makeRequest())
	require.NoError(t, err)
	assert.Equal(t, "model rebalance suggestion", advice.Reason)
}

func TestParseAdvice_CaseInsensitiveAction(t *testing.T) {
	advice, err := parseAdvice(`{"action":"Deposit","amount":10,"reason":"ok"}`, makeRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.AdviceDeposit, advice.Action)
}
