package runtimecfg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avoronov/sdbridge/common/trace"
)

// DefaultSyncInterval is the config pull period.
const DefaultSyncInterval = 30 * time.Second

// Syncer periodically pulls GET /config from the web service and swaps the
// holder's snapshot when a newer version arrives. Any failure keeps the old
// snapshot; the syncer never takes the bot down.
type Syncer struct {
	holder   *Holder
	baseURL  string
	http     *http.Client
	interval time.Duration
}

// NewSyncer builds a Syncer against the web service at baseURL.
// interval <= 0 falls back to DefaultSyncInterval.
func NewSyncer(holder *Holder, baseURL string, timeout, interval time.Duration) *Syncer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Syncer{
		holder:   holder,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		interval: interval,
	}
}

// Run pulls once immediately, then on every tick until ctx is canceled.
func (s *Syncer) Run(ctx context.Context) {
	s.pull(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("config sync: stopped")
			return
		case <-ticker.C:
			s.pull(ctx)
		}
	}
}

// Pull fetches the config once. Exposed so startup can load a snapshot before
// the first poll cycle.
func (s *Syncer) Pull(ctx context.Context) { s.pull(ctx) }

func (s *Syncer) pull(ctx context.Context) {
	raw, err := s.fetch(ctx)
	if err != nil {
		slog.Warn("config sync: fetch failed, keeping current snapshot", "err", err)
		return
	}

	// The wire version gates the swap before the full parse runs.
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		slog.Warn("config sync: unparseable config body, keeping current snapshot", "err", err)
		return
	}
	cur := s.holder.Current()
	if head.Version <= cur.Version && cur.Source == SourceDB {
		return
	}

	snap, err := Parse(raw, SourceDB)
	if err != nil {
		slog.Warn("config sync: invalid config body, keeping current snapshot", "err", err)
		return
	}
	s.holder.Swap(snap)
	slog.Info("config sync: snapshot swapped",
		"version", snap.Version,
		"rules", len(snap.Rules),
		"escalation_enabled", snap.Escalation.Enabled)
}

func (s *Syncer) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/config", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(trace.Header, trace.NewRequestID())

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return raw, nil
}
