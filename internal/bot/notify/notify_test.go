package notify_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avoronov/sdbridge/internal/bot/chat"
	"github.com/avoronov/sdbridge/internal/bot/escalation"
	"github.com/avoronov/sdbridge/internal/bot/notify"
	"github.com/avoronov/sdbridge/internal/bot/observability"
	"github.com/avoronov/sdbridge/internal/bot/routing"
	"github.com/avoronov/sdbridge/internal/bot/runtimecfg"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// fakeSender records messages and can reject configured chats as forbidden.
type fakeSender struct {
	mu        sync.Mutex
	msgs      []chat.Message
	forbidden map[int64]bool
}

func (f *fakeSender) Send(_ context.Context, msg chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forbidden[msg.ChatID] {
		return fmt.Errorf("%w: chat %d", chat.ErrForbidden, msg.ChatID)
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSender) sent() []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Message(nil), f.msgs...)
}

func holderWith(t *testing.T, body string) *runtimecfg.Holder {
	t.Helper()
	snap, err := runtimecfg.Parse([]byte(body), runtimecfg.SourceDB)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	h := runtimecfg.NewHolder()
	h.Swap(snap)
	return h
}

func newFixture(t *testing.T, body string, fallback *routing.Destination) (*notify.Service, *fakeSender, *fakeSender) {
	t.Helper()
	sender := &fakeSender{forbidden: map[int64]bool{}}
	adminSender := &fakeSender{}
	holder := holderWith(t, body)
	obs := observability.New(adminSender, &routing.Destination{ChatID: 555}, holder,
		nil, nil, "", 3600, 3, observability.Intervals{Admin: time.Hour})
	return notify.New(sender, holder, nil, obs, fallback), sender, adminSender
}

func TestNotifyQueue_RoutesByRulesAndDefault(t *testing.T) {
	body := `{
		"version": 1,
		"routing": {
			"rules": [{"dest": {"chat_id": 10, "thread_id": 2}, "keywords": ["vip"]}],
			"default_dest": {"chat_id": 99}
		},
		"escalation": {"enabled": false}
	}`
	svc, sender, _ := newFixture(t, body, nil)
	ctx := context.Background()

	svc.NotifyQueue(ctx, []ticket.Ticket{{"Id": float64(1), "Name": "VIP down"}}, "queue text")
	sent := sender.sent()
	if len(sent) != 1 || sent[0].ChatID != 10 || sent[0].ThreadID != 2 {
		t.Fatalf("matched ticket sends = %+v, want single send to 10/2", sent)
	}

	svc.NotifyQueue(ctx, []ticket.Ticket{{"Id": float64(2), "Name": "ordinary"}}, "queue text")
	sent = sender.sent()
	if len(sent) != 2 || sent[1].ChatID != 99 {
		t.Fatalf("unmatched ticket sends = %+v, want fallthrough to default 99", sent)
	}
}

func TestNotifyQueue_NoDestinationRaisesAdminAlert(t *testing.T) {
	body := `{
		"version": 1,
		"routing": {"rules": [], "default_dest": {}},
		"escalation": {"enabled": false}
	}`
	svc, sender, adminSender := newFixture(t, body, nil)

	svc.NotifyQueue(context.Background(), []ticket.Ticket{{"Id": float64(7), "Name": "lost"}}, "text")

	if got := len(sender.sent()); got != 0 {
		t.Errorf("queue sends = %d, want 0 without destinations", got)
	}
	alerts := adminSender.sent()
	if len(alerts) != 1 {
		t.Fatalf("admin alerts = %d, want 1", len(alerts))
	}
	if alerts[0].ChatID != 555 || !strings.Contains(alerts[0].Text, "Ticket without destination") {
		t.Errorf("alert = %+v", alerts[0])
	}
}

func TestNotifyQueue_EnvFallbackWhenConfigHasNoDefault(t *testing.T) {
	body := `{
		"version": 1,
		"routing": {"rules": [], "default_dest": {}},
		"escalation": {"enabled": false}
	}`
	fallback := &routing.Destination{ChatID: -200300}
	svc, sender, adminSender := newFixture(t, body, fallback)

	svc.NotifyQueue(context.Background(), []ticket.Ticket{{"Id": float64(1), "Name": "x"}}, "text")

	sent := sender.sent()
	if len(sent) != 1 || sent[0].ChatID != -200300 {
		t.Fatalf("sends = %+v, want env fallback destination", sent)
	}
	if got := len(adminSender.sent()); got != 0 {
		t.Errorf("admin alerts = %d, want 0 when the fallback serves", got)
	}
}

func TestNotifyQueue_ForbiddenSendGoesToObservability(t *testing.T) {
	body := `{
		"version": 1,
		"routing": {"rules": [], "default_dest": {"chat_id": -13}},
		"escalation": {"enabled": false}
	}`
	svc, sender, adminSender := newFixture(t, body, nil)
	sender.forbidden[-13] = true

	svc.NotifyQueue(context.Background(), []ticket.Ticket{{"Id": float64(1), "Name": "x"}}, "text")

	alerts := adminSender.sent()
	if len(alerts) != 1 || !strings.Contains(alerts[0].Text, "Forbidden send") {
		t.Fatalf("admin alerts = %+v, want one forbidden-send alert", alerts)
	}
	if !strings.Contains(alerts[0].Text, "routing.main") {
		t.Errorf("alert must name the send context, got:\n%s", alerts[0].Text)
	}
}

func TestNotifyEscalations_SkippedWhenDisabled(t *testing.T) {
	body := `{
		"version": 1,
		"routing": {"rules": [], "default_dest": {"chat_id": 1}},
		"escalation": {"enabled": false}
	}`
	svc, sender, _ := newFixture(t, body, nil)

	actions := []escalation.Action{{
		Dest:    routing.Destination{ChatID: 77},
		Mention: "@duty",
		Items:   []ticket.Ticket{{"Id": float64(5), "Name": "stuck"}},
	}}
	svc.NotifyEscalations(context.Background(), actions)
	if got := len(sender.sent()); got != 0 {
		t.Errorf("sends = %d, want 0 while escalation is disabled", got)
	}
}

func TestNotifyEscalations_DeliversPerAction(t *testing.T) {
	body := `{
		"version": 1,
		"routing": {"rules": [], "default_dest": {"chat_id": 1}},
		"escalation": {"enabled": true, "after_s": 60, "rules": [{"dest": {"chat_id": 77}}]}
	}`
	svc, sender, _ := newFixture(t, body, nil)

	actions := []escalation.Action{{
		Dest:    routing.Destination{ChatID: 77, ThreadID: 3},
		Mention: "@duty",
		Items: []ticket.Ticket{
			{"Id": float64(9), "Name": "B"},
			{"Id": float64(5), "Name": "A"},
		},
	}}
	svc.NotifyEscalations(context.Background(), actions)

	sent := sender.sent()
	if len(sent) != 1 || sent[0].ChatID != 77 || sent[0].ThreadID != 3 {
		t.Fatalf("sends = %+v, want one to 77/3", sent)
	}
	for _, want := range []string{"🚨 Эскалация", "@duty заберите в работу, пожалуйста.", "- #5: A", "- #9: B"} {
		if !strings.Contains(sent[0].Text, want) {
			t.Errorf("escalation text missing %q:\n%s", want, sent[0].Text)
		}
	}
	if strings.Index(sent[0].Text, "- #5:") > strings.Index(sent[0].Text, "- #9:") {
		t.Error("escalated tickets must be listed in id order")
	}
}

func TestBuildEscalationText_Layout(t *testing.T) {
	action := escalation.Action{
		Mention: "@duty",
		Items:   []ticket.Ticket{{"Id": float64(3), "Name": "printer"}},
	}
	now := time.Date(2026, 8, 25, 10, 30, 0, 0, time.Local)
	got := notify.BuildEscalationText(action, now)
	want := "🚨 Эскалация: заявки не взяты в работу вовремя — 2026-08-25 10:30:00\n" +
		"@duty заберите в работу, пожалуйста.\n\n- #3: printer"
	if got != want {
		t.Errorf("BuildEscalationText = %q, want %q", got, want)
	}
}
