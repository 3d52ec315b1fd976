package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/taskibot/internal/reliability"
	"github.com/ent0n29/taskibot/internal/router"
)

const channelName = "telegram"

// Submitter queues inbound messages; *router.Router implements it.
type Submitter interface {
	Submit(ctx context.Context, in router.Inbound, deliver router.Deliver) error
}

// Bot connects the Bot API to the router, either by long polling or by
// receiving webhook updates.
type Bot struct {
	api         *Client
	router      Submitter
	logger      *slog.Logger
	pollTimeout time.Duration
	sendTimeout time.Duration
}

func NewBot(api *Client, r Submitter, logger *slog.Logger, pollTimeout time.Duration) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if pollTimeout < time.Second {
		pollTimeout = 30 * time.Second
	}
	return &Bot{
		api:         api,
		router:      r,
		logger:      logger,
		pollTimeout: pollTimeout,
		sendTimeout: 15 * time.Second,
	}
}

// Poll drops any webhook and long-polls until ctx is done. Errors back off
// exponentially, honoring retry_after hints.
func (b *Bot) Poll(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return err
	}
	if err := b.api.DeleteWebhook(ctx, true); err != nil {
		return err
	}
	b.logger.Info("telegram_poll_start", "bot_username", me.Username, "poll_timeout", b.pollTimeout.String())

	var offset int64
	attempt := 0
	for {
		updates, next, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			var retryAfter time.Duration
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				retryAfter = apiErr.RetryAfter
			}
			wait := reliability.Backoff(attempt, time.Second, 30*time.Second, retryAfter)
			attempt++
			b.logger.Warn("telegram_get_updates_error", "error", err.Error(), "retry_in", wait.String())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
		offset = next
		for _, u := range updates {
			if err := b.HandleUpdate(ctx, u); err != nil {
				b.logger.Warn("telegram_update_dropped", "update_id", u.UpdateID, "error", err.Error())
			}
		}
	}
}

// RegisterWebhook points the Bot API at url.
func (b *Bot) RegisterWebhook(ctx context.Context, url, secret string) error {
	if err := b.api.SetWebhook(ctx, url, secret); err != nil {
		return err
	}
	b.logger.Info("telegram_webhook_registered", "url", url)
	return nil
}

// HandleUpdate submits the text message of u, if any, to the router.
func (b *Bot) HandleUpdate(ctx context.Context, u Update) error {
	in, chatID, ok := inboundFromUpdate(u)
	if !ok {
		return nil
	}
	return b.router.Submit(ctx, in, func(_ context.Context, rep router.Reply) {
		sendCtx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
		defer cancel()
		if err := b.api.SendMessage(sendCtx, chatID, rep.Text, rep.Menu); err != nil {
			b.logger.Warn("telegram_send_error", "chat_id", rep.ChatID, "error", err.Error())
		}
	})
}

func inboundFromUpdate(u Update) (router.Inbound, int64, bool) {
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.From == nil || msg.From.IsBot {
		return router.Inbound{}, 0, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return router.Inbound{}, 0, false
	}
	return router.Inbound{
		Channel:        channelName,
		ChatID:         ChatKey(msg.Chat.ID, msg.From.ID),
		SenderUsername: msg.From.Username,
		Text:           text,
		MessageID:      strconv.FormatInt(msg.MessageID, 10),
		ReceivedAt:     time.Now().UTC(),
	}, msg.Chat.ID, true
}

// ChatKey is the session key of one user in one Telegram chat. Members of a
// group chat each get their own session.
func ChatKey(chatID, userID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}
