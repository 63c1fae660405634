// Package notify dispatches queue notifications and escalations to chat
// destinations resolved through routing. It never returns errors upward:
// delivery failures are logged, forbidden sends go to the observability
// handler, and the poller simply resends on the next composition change.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avoronov/sdbridge/internal/bot/chat"
	"github.com/avoronov/sdbridge/internal/bot/escalation"
	"github.com/avoronov/sdbridge/internal/bot/observability"
	"github.com/avoronov/sdbridge/internal/bot/routing"
	"github.com/avoronov/sdbridge/internal/bot/runtimecfg"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// sendTimeout bounds a single chat delivery.
const sendTimeout = 5 * time.Second

// Service owns outbound message dispatch.
type Service struct {
	sender chat.Sender
	holder *runtimecfg.Holder
	syncer *runtimecfg.Syncer
	obs    *observability.Service

	// fallbackDest is the env-configured default destination, consulted only
	// when the runtime config carries no default of its own.
	fallbackDest *routing.Destination
}

// New assembles the service. syncer may be nil when config refresh-before-send
// is not wanted (tests); fallbackDest may be nil.
func New(sender chat.Sender, holder *runtimecfg.Holder, syncer *runtimecfg.Syncer,
	obs *observability.Service, fallbackDest *routing.Destination) *Service {
	return &Service{sender: sender, holder: holder, syncer: syncer, obs: obs, fallbackDest: fallbackDest}
}

// NotifyQueue sends one queue-composition notification. The destination set is
// resolved from the freshest config; an empty set takes the no-destination
// alert path instead of silently dropping the notification.
func (s *Service) NotifyQueue(ctx context.Context, items []ticket.Ticket, text string) {
	s.refresh(ctx)
	cfg := s.holder.Current()

	defaultDest := cfg.DefaultDest
	if defaultDest == nil {
		defaultDest = s.fallbackDest
	}
	dests := routing.PickDestinations(items, cfg.Rules, defaultDest, cfg.Bindings)
	if len(dests) == 0 {
		s.obs.HandleNoDestination(ctx, items)
		return
	}
	for _, d := range dests {
		s.sendSafe(ctx, d, text, "routing.main")
	}
}

// NotifyEscalations delivers the escalation actions produced by one poller
// pass. Each action already carries its destination.
func (s *Service) NotifyEscalations(ctx context.Context, actions []escalation.Action) {
	if len(actions) == 0 {
		return
	}
	s.refresh(ctx)
	if !s.holder.Current().Escalation.Enabled {
		return
	}
	for _, action := range actions {
		s.sendSafe(ctx, action.Dest, BuildEscalationText(action, time.Now()), "routing.escalation")
	}
}

func (s *Service) refresh(ctx context.Context) {
	if s.syncer != nil {
		s.syncer.Pull(ctx)
	}
}

func (s *Service) sendSafe(ctx context.Context, dest routing.Destination, text, sendContext string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msg := chat.Message{ChatID: dest.ChatID, ThreadID: dest.ThreadID, Text: text}
	err := s.sender.Send(sendCtx, msg)
	if err == nil {
		return
	}
	if errors.Is(err, chat.ErrForbidden) {
		slog.Warn("notify: forbidden send", "dest", dest.String(), "context", sendContext)
		s.obs.HandleForbiddenSend(ctx, dest, sendContext, err.Error())
		return
	}
	slog.Error("notify: send failed", "dest", dest.String(), "context", sendContext, "err", err)
}
