// Package trace provides request ID generation and context propagation for
// correlating HTTP requests and the log lines they produce.
//
// Every inbound HTTP request is assigned an ID (taken from the X-Request-ID
// header when the caller supplies one, generated otherwise) and the same ID is
// echoed back in the response, so a failing call can be matched against the
// server logs from either side.
package trace

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header carrying the request ID.
const Header = "X-Request-ID"

// requestIDKey is the unexported context key used to store the request ID.
type requestIDKey struct{}

// NewRequestID generates a fresh request ID.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID returns a child context carrying the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// FromContext extracts the request ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}
