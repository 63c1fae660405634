// Package escalation tracks how long tickets dwell in the open queue and
// fires a one-shot escalation when a ticket stays unattended past the
// configured threshold.
//
// The open queue itself is the signal: a ticket that leaves the queue was
// taken into work (or closed, or transferred), so its tracking state is
// dropped. No per-assignee probing is needed.
package escalation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/avoronov/sdbridge/internal/bot/routing"
	"github.com/avoronov/sdbridge/internal/bot/state"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// StateKey is the state-store key the tracker persists under.
const StateKey = "escalation.v1"

// Rule scopes an escalation to a subset of tickets and names the destination
// and mention text for the resulting message. An empty filter matches every
// ticket.
type Rule struct {
	Dest    routing.Destination
	Mention string
	Filter  routing.Filter
}

// Config is the active escalation configuration, derived from the runtime
// config snapshot on every pass so hot reloads take effect immediately.
type Config struct {
	Enabled  bool
	After    time.Duration
	Rules    []Rule
	Bindings routing.FieldBindings
}

// Action is one escalation message to send: all tickets from the current pass
// that escalated under the same rule.
type Action struct {
	Dest    routing.Destination
	Mention string
	Items   []ticket.Ticket
}

// persistedState is the JSON blob stored under StateKey. Keys are ticket IDs
// as strings, values are unix seconds.
type persistedState struct {
	SeenAt      map[string]float64 `json:"seen_at"`
	EscalatedAt map[string]float64 `json:"escalated_at"`
}

// Tracker owns the dwell-time state. It is single-writer: only the poller
// goroutine calls Process.
type Tracker struct {
	store       state.Store
	seenAt      map[int64]time.Time
	escalatedAt map[int64]time.Time
}

// NewTracker creates a Tracker persisting through store. A nil store keeps
// state in memory only.
func NewTracker(store state.Store) *Tracker {
	return &Tracker{
		store:       store,
		seenAt:      make(map[int64]time.Time),
		escalatedAt: make(map[int64]time.Time),
	}
}

// Load restores persisted state. Non-integer keys are dropped; a missing blob
// is a clean start, not an error.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	var blob persistedState
	err := t.store.GetJSON(ctx, StateKey, &blob)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	t.seenAt = decodeTimes(blob.SeenAt)
	t.escalatedAt = decodeTimes(blob.EscalatedAt)
	// escalated_at must stay a subset of seen_at.
	for id := range t.escalatedAt {
		if _, ok := t.seenAt[id]; !ok {
			delete(t.escalatedAt, id)
		}
	}
	slog.Info("escalation: state loaded", "tracked", len(t.seenAt), "escalated", len(t.escalatedAt))
	return nil
}

// Process advances the state machine for one successful poll and returns the
// escalation actions to dispatch now.
//
// For every ticket currently open: first sighting records seen_at. Tickets no
// longer open are evicted from both maps. A ticket escalates at most once per
// continuous open interval, when its dwell time reaches cfg.After and it
// matches at least one rule; each matching rule contributes the ticket to its
// own action.
func (t *Tracker) Process(ctx context.Context, cfg Config, items []ticket.Ticket, now time.Time) []Action {
	bindings := cfg.Bindings.WithDefaults()

	current := make(map[int64]ticket.Ticket, len(items))
	for _, it := range items {
		id := it.ID()
		if id <= 0 {
			continue
		}
		current[id] = it
		if _, ok := t.seenAt[id]; !ok {
			t.seenAt[id] = now
		}
	}

	for id := range t.seenAt {
		if _, open := current[id]; !open {
			delete(t.seenAt, id)
			delete(t.escalatedAt, id)
		}
	}

	var actions []Action
	if cfg.Enabled && cfg.After > 0 && len(cfg.Rules) > 0 {
		actions = t.fire(cfg, bindings, current, now)
	}

	t.persist(ctx)
	return actions
}

func (t *Tracker) fire(cfg Config, bindings routing.FieldBindings, current map[int64]ticket.Ticket, now time.Time) []Action {
	// Stable iteration so actions list tickets in id order.
	ids := make([]int64, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	perRule := make([][]ticket.Ticket, len(cfg.Rules))
	for _, id := range ids {
		if _, done := t.escalatedAt[id]; done {
			continue
		}
		if now.Sub(t.seenAt[id]) < cfg.After {
			continue
		}
		it := current[id]
		matched := false
		for ri, rule := range cfg.Rules {
			if matchRule(rule, it, bindings) {
				perRule[ri] = append(perRule[ri], it)
				matched = true
			}
		}
		if matched {
			t.escalatedAt[id] = now
		}
	}

	var actions []Action
	for ri, rule := range cfg.Rules {
		if len(perRule[ri]) == 0 {
			continue
		}
		actions = append(actions, Action{
			Dest:    rule.Dest,
			Mention: rule.Mention,
			Items:   perRule[ri],
		})
	}
	return actions
}

// matchRule applies the rule's filter; an empty filter escalates everything
// past the threshold.
func matchRule(rule Rule, it ticket.Ticket, b routing.FieldBindings) bool {
	if rule.Filter.Empty() {
		return true
	}
	ok, _ := rule.Filter.Match(it, b)
	return ok
}

func (t *Tracker) persist(ctx context.Context) {
	if t.store == nil {
		return
	}
	blob := persistedState{
		SeenAt:      encodeTimes(t.seenAt),
		EscalatedAt: encodeTimes(t.escalatedAt),
	}
	if err := t.store.SetJSON(ctx, StateKey, blob); err != nil {
		// Escalation survives in memory; the next pass retries the write.
		slog.Warn("escalation: persist state", "err", err)
	}
}

// Tracked returns the number of tickets currently tracked. For /status.
func (t *Tracker) Tracked() int {
	return len(t.seenAt)
}

func decodeTimes(raw map[string]float64) map[int64]time.Time {
	out := make(map[int64]time.Time, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		out[id] = time.Unix(sec, nsec)
	}
	return out
}

func encodeTimes(m map[int64]time.Time) map[string]float64 {
	out := make(map[string]float64, len(m))
	for id, ts := range m {
		out[strconv.FormatInt(id, 10)] = float64(ts.UnixNano()) / float64(time.Second)
	}
	return out
}
