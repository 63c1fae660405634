// Package routing maps tickets to chat destinations via operator-editable
// rules. All matching functions are pure: no I/O, no clock, deterministic for
// equal inputs.
package routing

import (
	"fmt"
	"strings"

	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// Destination identifies where a message lands: a chat and, for chats with
// topics, an optional thread. ThreadID == 0 means "no thread"; a wire value of
// 0 is normalized to absent at parse time.
type Destination struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int64 `json:"thread_id,omitempty"`
}

// String renders the destination for logs and admin alerts.
func (d Destination) String() string {
	if d.ThreadID != 0 {
		return fmt.Sprintf("chat %d (thread %d)", d.ChatID, d.ThreadID)
	}
	return fmt.Sprintf("chat %d", d.ChatID)
}

// DestSpec is the wire form of a destination. chat_id is accepted as an
// integer or an integer-as-text; both fields may be null.
type DestSpec struct {
	ChatID   any `json:"chat_id"`
	ThreadID any `json:"thread_id"`
}

// ParseDestination validates a wire destination. A missing or non-integer
// chat_id reports ok=false. thread_id 0 or absent means no thread.
func ParseDestination(spec DestSpec) (Destination, bool) {
	chatID, ok := ticket.AsInt64(spec.ChatID)
	if !ok || chatID == 0 {
		return Destination{}, false
	}
	threadID, _ := ticket.AsInt64(spec.ThreadID)
	return Destination{ChatID: chatID, ThreadID: threadID}, true
}

// Normalize canonicalizes a keyword for matching: casefolded and stripped of
// surrounding whitespace.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
