// File: internal/infra/adapters/telegram/noop_bot.go
package telegram

import (
	"context"
	"log"

	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/adapter"
)

var _ adapter.ChatAdapter = (*NoopBotAdapter)(nil)

// NoopBotAdapter implements adapter.ChatAdapter for local/dev runs. It logs
// instead of talking to Telegram, and reports no extra capabilities so the
// approval gate falls back to plain messages.
type NoopBotAdapter struct{}

func NewNoopBotAdapter() *NoopBotAdapter {
	return &NoopBotAdapter{}
}

func (b *NoopBotAdapter) Capabilities() []adapter.Capability {
	return []adapter.Capability{adapter.CapabilityPoll}
}

func (b *NoopBotAdapter) SendMessage(ctx context.Context, chatID int64, text string) error {
	log.Printf("[noop-telegram] To chat %d: %s\n", chatID, text)
	return nil
}

func (b *NoopBotAdapter) SendButtons(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) error {
	log.Printf("[noop-telegram] To chat %d: %s [buttons: %v]\n", chatID, text, rows)
	return nil
}

func (b *NoopBotAdapter) SendPoll(ctx context.Context, chatID int64, poll *model.Poll) (string, error) {
	log.Printf("[noop-telegram] To chat %d: poll %q options=%v\n", chatID, poll.Question, poll.Options)
	return "noop:" + poll.ID, nil
}

func (b *NoopBotAdapter) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	log.Printf("[noop-telegram] To chat %d: document %s (%s)\n", chatID, path, caption)
	return nil
}
