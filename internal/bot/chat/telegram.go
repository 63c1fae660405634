package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"

	"github.com/avoronov/sdbridge/common/redact"
)

// TelegramSender delivers messages through the Telegram Bot API.
type TelegramSender struct {
	bot   *bot.Bot
	token string
}

// NewTelegramSender wraps an already-constructed bot client. The token is kept
// only to scrub it from transport errors, which carry the full API URL.
func NewTelegramSender(b *bot.Bot, token string) *TelegramSender {
	return &TelegramSender{bot: b, token: token}
}

// Send implements Sender. A Telegram "forbidden" rejection is surfaced as
// ErrForbidden so routing can raise the admin alert instead of retrying.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	params := &bot.SendMessageParams{
		ChatID: msg.ChatID,
		Text:   msg.Text,
	}
	if msg.ThreadID != 0 {
		params.MessageThreadID = int(msg.ThreadID)
	}
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return wrapSendError(err, msg.ChatID, t.token)
	}
	return nil
}

// wrapSendError maps Bot API failures onto the package error contract: a
// forbidden rejection becomes ErrForbidden, everything else keeps its text.
// The token is scrubbed either way because transport errors quote the full
// API URL, which embeds it.
func wrapSendError(err error, chatID int64, token string) error {
	errText := redact.String(err.Error(), token)
	if errors.Is(err, bot.ErrorForbidden) {
		return fmt.Errorf("%w: chat %d: %s", ErrForbidden, chatID, errText)
	}
	return fmt.Errorf("chat: send to %d: %s", chatID, errText)
}
