// Package state provides the typed key→JSON persistence used by the bot for
// escalation state and poller snapshots.
//
// The contract is deliberately small: per-key last-writer-wins, no atomicity
// across keys. The production implementation is Redis; an in-memory store
// serves deployments without Redis and the test suite.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned by GetJSON when the key has never been written.
var ErrNotFound = errors.New("state: key not found")

// Store persists JSON-serializable values under string keys.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetJSON unmarshals the value stored under key into dest.
	// Returns ErrNotFound when the key is absent.
	GetJSON(ctx context.Context, key string, dest any) error

	// SetJSON marshals value and stores it under key, overwriting any
	// previous value.
	SetJSON(ctx context.Context, key string, value any) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// LastOK is the wall-clock time of the most recent successful read or
	// write, zero when no operation has succeeded yet. Surfaced in the
	// state-store-degraded admin alert.
	LastOK() time.Time
}

// lastOKClock tracks the most recent success without a lock.
type lastOKClock struct {
	unixNano atomic.Int64
}

func (c *lastOKClock) mark() {
	c.unixNano.Store(time.Now().UnixNano())
}

func (c *lastOKClock) get() time.Time {
	n := c.unixNano.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// MemoryStore is a process-local Store. State does not survive restarts, so
// escalation one-shot guarantees hold only within a single process lifetime.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	lastOK lastOKClock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// GetJSON implements Store.
func (m *MemoryStore) GetJSON(_ context.Context, key string, dest any) error {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return err
	}
	m.lastOK.mark()
	return nil
}

// SetJSON implements Store.
func (m *MemoryStore) SetJSON(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	m.lastOK.mark()
	return nil
}

// Ping implements Store; the in-memory store is always reachable.
func (m *MemoryStore) Ping(context.Context) error {
	m.lastOK.mark()
	return nil
}

// LastOK implements Store.
func (m *MemoryStore) LastOK() time.Time {
	return m.lastOK.get()
}
