package advisor

// anthropic.go — model-backed rebalance advisor.
//
// One call per invocation: treasury context in, strict JSON out
// ({"action","amount","reason"}). Replies that fail validation are discarded
// and reported as a completed-but-adviceless outcome, so the caller still
// books the inference cost. Transport failures never count as completed.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/keeperlabs/stakekeeper/internal/domain"
	"github.com/keeperlabs/stakekeeper/internal/ports"
)

const systemPrompt = "You are the treasury desk for an on-chain staking protocol. " +
	"You answer with exactly one JSON object and nothing else."

// messagesAPI is the slice of the SDK the advisor uses, kept narrow so tests
// can fake it.
type messagesAPI interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// Config selects the model and credentials.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// Anthropic implements ports.Advisor on the Anthropic Messages API.
type Anthropic struct {
	msgs      messagesAPI
	model     anthropicsdk.Model
	maxTokens int64
}

// New builds the advisor. MaxTokens defaults to 256; the reply is one small
// JSON object.
func New(cfg Config) *Anthropic {
	client := anthropicsdk.NewClient(option.WithAPIKey(cfg.APIKey))

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &Anthropic{
		msgs:      &client.Messages,
		model:     anthropicsdk.Model(cfg.Model),
		maxTokens: int64(maxTokens),
	}
}

// Rebalance asks the model whether to move stable between the wallet and the
// pool. Completed is true whenever the provider answered, valid or not.
func (a *Anthropic) Rebalance(ctx context.Context, req ports.AdvisoryRequest) (domain.AdvisoryOutcome, error) {
	msg, err := a.msgs.New(ctx, anthropicsdk.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropicsdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropicsdk.MessageParam{{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(buildPrompt(req))},
		}},
	})
	if err != nil {
		return domain.AdvisoryOutcome{}, fmt.Errorf("advisor.Rebalance: model call: %w", err)
	}

	advice, err := parseAdvice(collectText(msg), req)
	if err != nil {
		// billable but unusable; diagnostics only, never a Decision
		slog.Warn("advisor: reply rejected", "err", err)
		return domain.AdvisoryOutcome{Completed: true}, nil
	}
	return domain.AdvisoryOutcome{Advice: advice, Completed: true}, nil
}

// buildPrompt renders the treasury context the model decides over.
func buildPrompt(req ports.AdvisoryRequest) string {
	total := req.Balances.TotalStable()
	poolPct := 0.0
	if total > 0 {
		poolPct = req.Balances.Pool / total * 100
	}
	return fmt.Sprintf(
		"Treasury state:\n"+
			"- liquid stable: $%.2f\n"+
			"- lending pool position: $%.2f (%.1f%% of stable holdings)\n"+
			"- native gas balance: %.4f\n"+
			"- open stakes under management: %d\n"+
			"- lifetime profit: $%.2f\n\n"+
			"Reply with one JSON object only:\n"+
			`{"action":"none|deposit|withdraw","amount":<stable units>,"reason":"<one short sentence>"}`+"\n"+
			"Constraints: deposit must not exceed liquid stable; withdraw must not exceed the pool position; answer none unless the split is clearly off.",
		req.Balances.Stable, req.Balances.Pool, poolPct,
		req.Balances.Native, req.OpenStakes, req.Profit,
	)
}

// collectText joins the reply's text blocks.
func collectText(msg *anthropicsdk.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "")
}

// parseAdvice extracts and validates the JSON object from the reply.
func parseAdvice(text string, req ports.AdvisoryRequest) (*domain.Advice, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, &domain.ValidationError{Field: "reply", Msg: "no JSON object found"}
	}

	var raw struct {
		Action string  `json:"action"`
		Amount float64 `json:"amount"`
		Reason string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, &domain.ValidationError{Field: "reply", Msg: "malformed JSON: " + err.Error()}
	}

	action := domain.AdviceAction(strings.ToLower(strings.TrimSpace(raw.Action)))
	switch action {
	case domain.AdviceNone:
		return &domain.Advice{Action: domain.AdviceNone, Reason: raw.Reason}, nil
	case domain.AdviceDeposit, domain.AdviceWithdraw:
	default:
		return nil, &domain.ValidationError{Field: "action", Msg: "unknown action " + raw.Action}
	}

	if math.IsNaN(raw.Amount) || math.IsInf(raw.Amount, 0) || raw.Amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Msg: fmt.Sprintf("not a positive finite number: %v", raw.Amount)}
	}
	if action == domain.AdviceDeposit && raw.Amount > req.Balances.Stable {
		return nil, &domain.ValidationError{Field: "amount", Msg: fmt.Sprintf("deposit %.2f exceeds liquid stable %.2f", raw.Amount, req.Balances.Stable)}
	}
	if action == domain.AdviceWithdraw && raw.Amount > req.Balances.Pool {
		return nil, &domain.ValidationError{Field: "amount", Msg: fmt.Sprintf("withdraw %.2f exceeds pool position %.2f", raw.Amount, req.Balances.Pool)}
	}

	reason := strings.TrimSpace(raw.Reason)
	if reason == "" {
		reason = "model rebalance suggestion"
	}
	return &domain.Advice{Action: action, Amount: raw.Amount, Reason: reason}, nil
}
