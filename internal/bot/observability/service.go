package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/avoronov/sdbridge/internal/bot/chat"
	"github.com/avoronov/sdbridge/internal/bot/routing"
	"github.com/avoronov/sdbridge/internal/bot/runtimecfg"
	"github.com/avoronov/sdbridge/internal/bot/state"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
	"github.com/avoronov/sdbridge/internal/bot/webclient"
)

// Intervals carries the per-kind rate-limit windows.
type Intervals struct {
	Admin    time.Duration // no-destination and forbidden-send
	Web      time.Duration
	State    time.Duration
	Rollback time.Duration
}

// Service owns the admin-alert pipeline. A nil admin destination turns every
// alert into a log line.
type Service struct {
	sender    chat.Sender
	adminDest *routing.Destination
	holder    *runtimecfg.Holder
	web       *webclient.Client
	store     state.Store

	adminToken        string
	rollbackWindowS   int
	rollbackThreshold int

	limiters map[string]*alertLimiter

	// sleep is swapped by tests; production uses time.Sleep.
	sleep func(time.Duration)
}

// New assembles the service. store and web may be nil; the corresponding
// probes then do nothing.
func New(sender chat.Sender, adminDest *routing.Destination, holder *runtimecfg.Holder,
	web *webclient.Client, store state.Store, adminToken string,
	rollbackWindowS, rollbackThreshold int, iv Intervals) *Service {

	return &Service{
		sender:            sender,
		adminDest:         adminDest,
		holder:            holder,
		web:               web,
		store:             store,
		adminToken:        adminToken,
		rollbackWindowS:   rollbackWindowS,
		rollbackThreshold: rollbackThreshold,
		limiters: map[string]*alertLimiter{
			KindNoDestination: {interval: iv.Admin},
			KindForbiddenSend: {interval: iv.Admin},
			KindWebDegraded:   {interval: iv.Web},
			KindStateDegraded: {interval: iv.State},
			KindRollbackStorm: {interval: iv.Rollback},
		},
		sleep: time.Sleep,
	}
}

// Skipped returns the cumulative suppressed-send count for one alert kind.
func (s *Service) Skipped(kind string) int64 {
	l, ok := s.limiters[kind]
	if !ok {
		return 0
	}
	return l.skippedCount()
}

// send delivers one admin alert, assuming the kind's limiter already allowed
// it. Missing admin destination degrades to a warning log.
func (s *Service) send(ctx context.Context, kind, text string) {
	if s.adminDest == nil {
		slog.Warn("observability: no admin destination configured, alert dropped", "kind", kind)
		return
	}
	msg := chat.Message{ChatID: s.adminDest.ChatID, ThreadID: s.adminDest.ThreadID, Text: text}
	if err := s.sender.Send(ctx, msg); err != nil {
		slog.Error("observability: failed to send admin alert", "kind", kind, "err", err)
	}
}

// HandleNoDestination is invoked inline by the notification service when
// routing resolves to the empty destination set.
func (s *Service) HandleNoDestination(ctx context.Context, items []ticket.Ticket) {
	if !s.limiters[KindNoDestination].allow(time.Now()) {
		slog.Info("observability: no-destination alert skipped by rate-limit")
		return
	}
	cfg := s.holder.Current()
	text := buildNoDestinationText(items, len(cfg.Rules), cfg.DefaultDest != nil,
		cfg.Bindings.ServiceID, cfg.Bindings.CustomerID, cfg.Version, cfg.Source)
	s.send(ctx, KindNoDestination, text)
}

// HandleForbiddenSend is invoked when a chat rejected the bot outright.
func (s *Service) HandleForbiddenSend(ctx context.Context, dest routing.Destination, sendContext, errText string) {
	if !s.limiters[KindForbiddenSend].allow(time.Now()) {
		slog.Info("observability: forbidden-send alert skipped by rate-limit",
			"dest", dest.String(), "context", sendContext)
		return
	}
	s.send(ctx, KindForbiddenSend, buildForbiddenSendText(dest.ChatID, dest.ThreadID, sendContext, errText))
}

// CheckWeb probes /health and /ready up to three times with short sleeps and
// alerts when either stays failing.
func (s *Service) CheckWeb(ctx context.Context) {
	if s.web == nil {
		return
	}
	const attempts = 3
	var health, ready webclient.CheckResult
	for i := 0; i < attempts; i++ {
		health, ready = s.web.CheckHealthReady(ctx, true)
		if health.OK && ready.OK {
			return
		}
		if i < attempts-1 {
			s.sleep(500 * time.Millisecond)
		}
	}

	if !s.limiters[KindWebDegraded].allow(time.Now()) {
		return
	}
	s.send(ctx, KindWebDegraded, buildWebDegradedText(health.OK, ready.OK, health.Status, ready.Status))
}

// CheckState pings the state store and alerts on failure, carrying the last
// successful operation's timestamp for diagnosis.
func (s *Service) CheckState(ctx context.Context) {
	if s.store == nil {
		return
	}
	err := s.store.Ping(ctx)
	if err == nil {
		return
	}
	if !s.limiters[KindStateDegraded].allow(time.Now()) {
		return
	}
	s.send(ctx, KindStateDegraded, buildStateDegradedText(err.Error(), s.store.LastOK()))
}

// CheckRollbacks fetches rollback stats from the web service and alerts when
// the count within the window reaches the threshold. Skipped entirely without
// an admin token, because the endpoint requires it.
func (s *Service) CheckRollbacks(ctx context.Context) {
	if s.web == nil || s.adminToken == "" {
		return
	}
	stats, err := s.web.GetRollbacks(ctx, s.rollbackWindowS, s.adminToken)
	if err != nil {
		slog.Warn("observability: rollback stats fetch failed", "err", err)
		return
	}
	if stats.Count < s.rollbackThreshold {
		return
	}
	if !s.limiters[KindRollbackStorm].allow(time.Now()) {
		return
	}
	s.send(ctx, KindRollbackStorm, buildRollbacksText(stats.Count, stats.WindowS, stats.LastRollbackAt))
}

// RunProbeLoop runs one probe on the given period until ctx is canceled.
// The bot starts one loop per probe so a slow web check never delays the
// state-store check.
func (s *Service) RunProbeLoop(ctx context.Context, name string, period time.Duration, probe func(context.Context)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("observability: probe stopped", "probe", name)
			return
		case <-ticker.C:
			probe(ctx)
		}
	}
}
