// File: internal/infra/adapters/telegram/real_bot.go
package telegram

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-agent-runner/internal/application"
	"telegram-agent-runner/internal/config"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/adapter"
	"telegram-agent-runner/internal/infra/logging"
	red "telegram-agent-runner/internal/infra/redis"
)

var _ adapter.ChatAdapter = (*RealTelegramBotAdapter)(nil)

const (
	commandRateLimit  = 20
	commandRateWindow = time.Minute
)

// RealTelegramBotAdapter drives the bot over long polling and implements the
// outbound ChatAdapter port for the worker's notifications.
type RealTelegramBotAdapter struct {
	bot         *tgbotapi.BotAPI
	facade      *application.BotFacade
	cfg         *config.BotConfig
	rateLimiter *red.RateLimiter
	log         zerolog.Logger

	updateChan chan tgbotapi.Update

	// Telegram poll id -> our poll id, populated by SendPoll so later
	// PollAnswer updates can be correlated. In-memory only: a restart drops
	// open native polls, which then have to be decided via commands.
	pollMu  sync.Mutex
	pollIDs map[string]string
}

func NewRealTelegramBotAdapter(
	cfg *config.BotConfig,
	facade *application.BotFacade,
	rateLimiter *red.RateLimiter,
	logger *zerolog.Logger,
) (*RealTelegramBotAdapter, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return &RealTelegramBotAdapter{
		bot:         bot,
		facade:      facade,
		cfg:         cfg,
		rateLimiter: rateLimiter,
		log:         logger.With().Str("component", "telegram").Logger(),
		updateChan:  make(chan tgbotapi.Update, 128),
		pollIDs:     map[string]string{},
	}, nil
}

// StartPolling blocks until ctx is cancelled, fanning updates out to a small
// worker group so a slow handler does not stall the poll loop.
func (r *RealTelegramBotAdapter) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := r.bot.GetUpdatesChan(u)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for upd := range r.updateChan {
				r.handleUpdate(ctx, upd)
			}
		}()
	}

	r.log.Info().Int("workers", r.cfg.Workers).Msg("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			r.bot.StopReceivingUpdates()
			close(r.updateChan)
			wg.Wait()
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				close(r.updateChan)
				wg.Wait()
				return nil
			}
			r.updateChan <- upd
		}
	}
}

func (r *RealTelegramBotAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Msg("update handler panicked")
		}
	}()

	switch {
	case update.PollAnswer != nil:
		r.handlePollAnswer(ctx, update.PollAnswer)
	case update.CallbackQuery != nil:
		r.handleQuery(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		r.handleCommand(ctx, update.Message)
	}
}

func (r *RealTelegramBotAdapter) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	if !r.isOwner(message.From.ID) {
		r.log.Warn().Int64("from", message.From.ID).Str("command", message.Command()).Msg("command from non-owner ignored")
		return
	}

	ctx = logging.WithChatID(ctx, message.Chat.ID)
	command := message.Command()
	allowed, err := r.rateLimiter.Allow(ctx, red.ChatCommandKey(message.Chat.ID, command), commandRateLimit, commandRateWindow)
	if err != nil {
		r.log.Error().Err(err).Msg("rate limiter check failed")
	} else if !allowed {
		_ = r.SendMessage(ctx, message.Chat.ID, "Slow down a little; try again in a minute.")
		return
	}

	handler, ok := r.commandRoutes()[command]
	if !ok {
		_ = r.SendMessage(ctx, message.Chat.ID, "Unknown command. See /help.")
		return
	}
	if err := handler(ctx, message); err != nil {
		r.log.Error().Err(err).Str("command", command).Msg("command handler failed")
		_ = r.SendMessage(ctx, message.Chat.ID, "Something went wrong. Check the logs.")
	}
}

func (r *RealTelegramBotAdapter) handleQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	defer func() {
		if _, err := r.bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			r.log.Warn().Err(err).Msg("failed to ack callback query")
		}
	}()

	if !r.isOwner(query.From.ID) {
		return
	}
	chatID := query.From.ID
	if query.Message != nil {
		chatID = query.Message.Chat.ID
	}

	for _, route := range r.cbPrefixRoutes() {
		if len(query.Data) > len(route.Prefix) && query.Data[:len(route.Prefix)] == route.Prefix {
			if err := route.Fn(ctx, chatID, query.Data); err != nil {
				r.log.Error().Err(err).Str("data", query.Data).Msg("callback handler failed")
			}
			return
		}
	}
	r.log.Warn().Str("data", query.Data).Msg("unknown callback data")
}

func (r *RealTelegramBotAdapter) handlePollAnswer(ctx context.Context, answer *tgbotapi.PollAnswer) {
	if !r.isOwner(answer.User.ID) || len(answer.OptionIDs) == 0 {
		return
	}

	r.pollMu.Lock()
	pollID, ok := r.pollIDs[answer.PollID]
	r.pollMu.Unlock()
	if !ok {
		r.log.Warn().Str("tg_poll_id", answer.PollID).Msg("vote on unknown poll")
		return
	}

	voter := strconv.FormatInt(answer.User.ID, 10)
	text, err := r.facade.HandleVote(ctx, pollID, voter, answer.OptionIDs[0])
	if err != nil {
		r.log.Error().Err(err).Str("poll_id", pollID).Msg("vote handling failed")
		return
	}
	if text != "" {
		_ = r.SendMessage(ctx, r.cfg.OwnerID, text)
	}
}

func (r *RealTelegramBotAdapter) isOwner(id int64) bool {
	return id == r.cfg.OwnerID
}

// ---- adapter.ChatAdapter ----

func (r *RealTelegramBotAdapter) Capabilities() []adapter.Capability {
	return []adapter.Capability{adapter.CapabilityPoll, adapter.CapabilityChecklist}
}

func (r *RealTelegramBotAdapter) SendMessage(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := r.bot.Send(msg)
	return err
}

func (r *RealTelegramBotAdapter) SendButtons(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) error {
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		keyboard = append(keyboard, btns)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(keyboard...)
	_, err := r.bot.Send(msg)
	return err
}

func (r *RealTelegramBotAdapter) SendPoll(ctx context.Context, chatID int64, poll *model.Poll) (string, error) {
	cfg := tgbotapi.NewPoll(chatID, poll.Question, poll.Options...)
	// Anonymous polls never produce PollAnswer updates.
	cfg.IsAnonymous = false
	cfg.AllowsMultipleAnswers = poll.AllowsMultiple

	msg, err := r.bot.Send(cfg)
	if err != nil {
		return "", err
	}
	if msg.Poll == nil {
		return "", nil
	}

	r.pollMu.Lock()
	r.pollIDs[msg.Poll.ID] = poll.ID
	r.pollMu.Unlock()
	return msg.Poll.ID, nil
}

func (r *RealTelegramBotAdapter) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	_, err := r.bot.Send(doc)
	return err
}
