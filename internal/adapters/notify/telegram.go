package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/keeperlabs/stakekeeper/internal/domain"
)

// sender is the slice of the Telegram bot API the notifier needs.
// *tgbotapi.BotAPI satisfies it; tests swap in a fake.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram pushes alerts and noisy cycles to a chat. Optional: the
// keeper runs fine without it.
type Telegram struct {
	bot    sender
	chatID int64
}

// NewTelegram authenticates against the bot API.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify.NewTelegram: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// CycleSummary pushes only cycles that moved money. A message every
// idle cycle would drown the chat.
func (t *Telegram) CycleSummary(_ context.Context, r domain.CycleReport) error {
	executed, failed := countOutcomes(r.Executed)
	if executed == 0 && failed == 0 {
		return nil
	}

	text := fmt.Sprintf("cycle %d: %d action(s)", r.Cycle, executed)
	if failed > 0 {
		text += fmt.Sprintf(", %d FAILED", failed)
	}
	for _, a := range r.Executed {
		text += fmt.Sprintf("\n- %s $%.2f", a.Action, a.StableAmount)
	}
	text += fmt.Sprintf("\nstable $%.2f | pool $%.2f | gas %.4f",
		r.Balances.Stable, r.Balances.Pool, r.Balances.Native)
	return t.send(text)
}

// Alert pushes urgent conditions (low gas, repeated failures).
func (t *Telegram) Alert(_ context.Context, subject, body string) error {
	return t.send(fmt.Sprintf("[ALERT] %s\n%s", subject, body))
}

func (t *Telegram) send(text string) error {
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("notify.Telegram.send: %w", err)
	}
	return nil
}
