// Package poller runs the open-queue polling loop: fetch the queue through
// the web service, detect composition changes by id snapshot, and drive
// notifications and escalations.
//
// Only the queue's composition matters. A ticket rename between polls does
// not trigger a send; when the composition does change, the full current list
// with current names goes out.
package poller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avoronov/sdbridge/internal/bot/escalation"
	"github.com/avoronov/sdbridge/internal/bot/runtimecfg"
	"github.com/avoronov/sdbridge/internal/bot/sdweb"
	"github.com/avoronov/sdbridge/internal/bot/state"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// SnapshotKey is the optional state-store key the sent snapshot persists
// under, so a restart does not resend an unchanged queue.
const SnapshotKey = "poller.snapshot.v1"

// DefaultFetchLimit caps one open-queue fetch.
const DefaultFetchLimit = 200

// Stats is a point-in-time copy of the poller's counters, rendered by the
// /status command.
type Stats struct {
	Runs                int64
	Failures            int64
	ConsecutiveFailures int64
	LastRunAt           time.Time
	LastSuccessAt       time.Time
	LastError           string
	LastDurationMS      int64
	LastSentSnapshot    string
	LastSentIDs         []int64
	LastSentCount       int
	LastSentAt          time.Time
}

// persistedSnapshot is the JSON blob stored under SnapshotKey.
type persistedSnapshot struct {
	Snapshot string  `json:"snapshot"`
	IDs      []int64 `json:"ids"`
	Count    int     `json:"count"`
	SentAt   float64 `json:"sent_at"`
}

// Notifier is the downstream the poller dispatches into.
type Notifier interface {
	NotifyQueue(ctx context.Context, items []ticket.Ticket, text string)
	NotifyEscalations(ctx context.Context, actions []escalation.Action)
}

// Poller owns the loop state. The loop is single-writer; Stats takes the same
// lock so the /status command sees consistent values.
type Poller struct {
	sd       *sdweb.Client
	notifier Notifier
	tracker  *escalation.Tracker
	holder   *runtimecfg.Holder
	store    state.Store // nil disables snapshot persistence

	baseInterval time.Duration
	maxBackoff   time.Duration
	limit        int

	mu    sync.Mutex
	stats Stats
	// hasSent distinguishes "never sent" from an empty-queue snapshot: the
	// first successful fetch always sends.
	hasSent bool
}

// New assembles a poller. baseInterval <= 0 defaults to 30s, maxBackoff <= 0
// to 300s, limit <= 0 to DefaultFetchLimit.
func New(sd *sdweb.Client, notifier Notifier, tracker *escalation.Tracker,
	holder *runtimecfg.Holder, store state.Store,
	baseInterval, maxBackoff time.Duration, limit int) *Poller {

	if baseInterval <= 0 {
		baseInterval = 30 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 300 * time.Second
	}
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	return &Poller{
		sd:           sd,
		notifier:     notifier,
		tracker:      tracker,
		holder:       holder,
		store:        store,
		baseInterval: baseInterval,
		maxBackoff:   maxBackoff,
		limit:        limit,
	}
}

// Stats returns a copy of the current counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.LastSentIDs = append([]int64(nil), p.stats.LastSentIDs...)
	return s
}

// Restore loads the persisted sent snapshot, if any. Called once before Run.
func (p *Poller) Restore(ctx context.Context) {
	if p.store == nil {
		return
	}
	var blob persistedSnapshot
	err := p.store.GetJSON(ctx, SnapshotKey, &blob)
	if errors.Is(err, state.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Warn("poller: snapshot restore failed", "err", err)
		return
	}
	p.mu.Lock()
	p.stats.LastSentSnapshot = blob.Snapshot
	p.stats.LastSentIDs = blob.IDs
	p.stats.LastSentCount = blob.Count
	p.stats.LastSentAt = time.Unix(int64(blob.SentAt), 0)
	p.hasSent = blob.Snapshot != ""
	p.mu.Unlock()
	slog.Info("poller: snapshot restored", "count", blob.Count)
}

// Run executes the polling loop until ctx is canceled. The sleep between
// iterations is interruptible.
func (p *Poller) Run(ctx context.Context) {
	interval := p.baseInterval
	for {
		interval = p.RunOnce(ctx, interval)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("poller: stopped")
			return
		case <-timer.C:
		}
	}
}

// RunOnce performs a single fetch→diff→notify→escalate→persist pass and
// returns the interval to sleep before the next one. Exposed for tests.
func (p *Poller) RunOnce(ctx context.Context, interval time.Duration) time.Duration {
	t0 := time.Now()
	p.mu.Lock()
	p.stats.Runs++
	p.stats.LastRunAt = t0
	p.mu.Unlock()

	res := p.sd.GetOpen(ctx, p.limit)

	dur := time.Since(t0).Milliseconds()
	if !res.OK {
		p.mu.Lock()
		p.stats.LastDurationMS = dur
		p.stats.Failures++
		p.stats.ConsecutiveFailures++
		p.stats.LastError = res.Err
		p.mu.Unlock()
		slog.Warn("poller: fetch failed", "err", res.Err, "request_id", res.RequestID)
		return backoff(interval, p.baseInterval, p.maxBackoff)
	}

	p.mu.Lock()
	p.stats.LastDurationMS = dur
	p.stats.LastSuccessAt = time.Now()
	p.stats.LastError = ""
	p.stats.ConsecutiveFailures = 0
	lastSnapshot := p.stats.LastSentSnapshot
	hasSent := p.hasSent
	p.mu.Unlock()

	hash, ids := Snapshot(res.Items)
	if !hasSent || hash != lastSnapshot {
		text := BuildQueueText(res.Items)
		p.notifier.NotifyQueue(ctx, res.Items, text)

		now := time.Now()
		p.mu.Lock()
		p.stats.LastSentSnapshot = hash
		p.stats.LastSentIDs = ids
		p.stats.LastSentCount = len(ids)
		p.stats.LastSentAt = now
		p.hasSent = true
		p.mu.Unlock()
		p.persistSnapshot(ctx, hash, ids, now)
	}

	p.escalate(ctx, res.Items)
	return p.baseInterval
}

func (p *Poller) escalate(ctx context.Context, items []ticket.Ticket) {
	if p.tracker == nil {
		return
	}
	cfg := p.holder.Current().Escalation
	actions := p.tracker.Process(ctx, cfg, items, time.Now())
	if len(actions) > 0 {
		p.notifier.NotifyEscalations(ctx, actions)
	}
}

func (p *Poller) persistSnapshot(ctx context.Context, hash string, ids []int64, at time.Time) {
	if p.store == nil {
		return
	}
	blob := persistedSnapshot{
		Snapshot: hash,
		IDs:      ids,
		Count:    len(ids),
		SentAt:   float64(at.Unix()),
	}
	if err := p.store.SetJSON(ctx, SnapshotKey, blob); err != nil {
		slog.Warn("poller: snapshot persist failed", "err", err)
	}
}

// backoff doubles the interval after a failure, clamped to [base, max].
func backoff(interval, base, max time.Duration) time.Duration {
	next := interval * 2
	if next < base {
		next = base
	}
	if next > max {
		next = max
	}
	return next
}

// Snapshot hashes the queue's composition: the sorted, deduplicated id list
// serialized as a compact JSON array, sha256-hexed. Names do not participate.
func Snapshot(items []ticket.Ticket) (string, []int64) {
	ids := ticket.IDs(items)
	payload, _ := json.Marshal(ids)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), ids
}

// BuildQueueText renders the queue notification: id-sorted, one line per
// ticket with its current name.
func BuildQueueText(items []ticket.Ticket) string {
	sorted := ticket.SortByID(items)
	if len(sorted) == 0 {
		return "📌 Открытых заявок нет ✅"
	}
	lines := []string{fmt.Sprintf("📌 Открытые заявки: %d", len(sorted))}
	for _, it := range sorted {
		lines = append(lines, fmt.Sprintf("- #%d: %s", it.ID(), it.Name()))
	}
	return strings.Join(lines, "\n")
}
