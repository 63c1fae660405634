// Package chat abstracts the outbound message channel. The rest of the bot
// talks to the Sender interface; Telegram is the production implementation.
package chat

import (
	"context"
	"errors"
)

// ErrForbidden marks a send rejected because the bot lacks access to the
// destination (kicked from the chat, wrong thread, never invited). Callers
// treat it as a configuration problem, not a transient fault.
var ErrForbidden = errors.New("chat: destination forbidden")

// Message is one outbound chat message.
type Message struct {
	ChatID   int64
	ThreadID int64 // 0 means no thread
	Text     string
}

// Sender delivers messages to a chat platform.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Noop is a Sender that drops everything. Used when the bot runs without a
// chat token and by tests that only care about the call, not the delivery.
type Noop struct{}

// Send implements Sender.
func (Noop) Send(context.Context, Message) error { return nil }
