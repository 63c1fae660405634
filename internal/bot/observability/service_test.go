package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avoronov/sdbridge/internal/bot/chat"
	"github.com/avoronov/sdbridge/internal/bot/routing"
	"github.com/avoronov/sdbridge/internal/bot/runtimecfg"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
	"github.com/avoronov/sdbridge/internal/bot/webclient"
)

// recorder captures sent admin alerts.
type recorder struct {
	mu   sync.Mutex
	msgs []chat.Message
}

func (r *recorder) Send(_ context.Context, msg chat.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) last() chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func newTestService(rec *recorder, iv Intervals) *Service {
	adminDest := &routing.Destination{ChatID: 555, ThreadID: 7}
	svc := New(rec, adminDest, runtimecfg.NewHolder(), nil, nil, "", 3600, 3, iv)
	svc.sleep = func(time.Duration) {}
	return svc
}

func TestAlertLimiter_WindowAndCumulativeSkipped(t *testing.T) {
	l := &alertLimiter{interval: time.Minute}
	t0 := time.Now()

	if !l.allow(t0) {
		t.Fatal("first attempt must pass")
	}
	for i := 0; i < 5; i++ {
		if l.allow(t0.Add(time.Duration(i+1) * time.Second)) {
			t.Fatalf("attempt %d inside the window must be suppressed", i+1)
		}
	}
	if got := l.skippedCount(); got != 5 {
		t.Errorf("skipped = %d, want 5", got)
	}

	if !l.allow(t0.Add(time.Minute)) {
		t.Fatal("attempt after the window must pass")
	}
	// A successful send does not reset the counter.
	if got := l.skippedCount(); got != 5 {
		t.Errorf("skipped after send = %d, want 5 (cumulative)", got)
	}
}

func TestHandleNoDestination_RateLimited(t *testing.T) {
	rec := &recorder{}
	svc := newTestService(rec, Intervals{Admin: time.Hour})
	ctx := context.Background()
	items := []ticket.Ticket{{"Id": float64(42), "Name": "lost ticket", "ServiceId": float64(101)}}

	svc.HandleNoDestination(ctx, items)
	svc.HandleNoDestination(ctx, items)
	svc.HandleNoDestination(ctx, items)

	if rec.count() != 1 {
		t.Fatalf("sent %d alerts, want 1 (rate-limited)", rec.count())
	}
	if got := svc.Skipped(KindNoDestination); got != 2 {
		t.Errorf("skipped = %d, want 2", got)
	}

	msg := rec.last()
	if msg.ChatID != 555 || msg.ThreadID != 7 {
		t.Errorf("alert dest = %d/%d, want admin 555/7", msg.ChatID, msg.ThreadID)
	}
	for _, want := range []string{"Ticket without destination", "- id: 42", "- ServiceId: 101", "config_source: default"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("alert text missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestHandleForbiddenSend_IndependentOfNoDestination(t *testing.T) {
	rec := &recorder{}
	svc := newTestService(rec, Intervals{Admin: time.Hour})
	ctx := context.Background()

	svc.HandleNoDestination(ctx, nil)
	svc.HandleForbiddenSend(ctx, routing.Destination{ChatID: -100}, "routing.main", "kicked")

	// Distinct kinds have distinct limiters even with the same interval.
	if rec.count() != 2 {
		t.Fatalf("sent %d alerts, want 2", rec.count())
	}
	if !strings.Contains(rec.last().Text, "Forbidden send") {
		t.Errorf("forbidden alert text = %q", rec.last().Text)
	}
}

func TestCheckWeb_RetriesThenAlerts(t *testing.T) {
	var healthCalls, readyCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		healthCalls++
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		readyCalls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	rec := &recorder{}
	adminDest := &routing.Destination{ChatID: 555}
	wc := webclient.New(ts.URL, time.Second, time.Second)
	svc := New(rec, adminDest, runtimecfg.NewHolder(), wc, nil, "", 3600, 3, Intervals{Web: 10 * time.Minute})
	svc.sleep = func(time.Duration) {}

	ctx := context.Background()
	svc.CheckWeb(ctx)

	if readyCalls != 3 {
		t.Errorf("ready probed %d times, want 3 attempts before alerting", readyCalls)
	}
	if rec.count() != 1 {
		t.Fatalf("sent %d alerts, want 1", rec.count())
	}
	for _, want := range []string{"Web деградировал", "health: ok", "ready: fail", "status=503"} {
		if !strings.Contains(rec.last().Text, want) {
			t.Errorf("web alert text missing %q:\n%s", want, rec.last().Text)
		}
	}

	// Second cycle inside the window: probes run, alert suppressed.
	svc.CheckWeb(ctx)
	if rec.count() != 1 {
		t.Errorf("sent %d alerts after second cycle, want 1", rec.count())
	}
	if got := svc.Skipped(KindWebDegraded); got != 1 {
		t.Errorf("web skipped = %d, want 1", got)
	}
}

func TestCheckWeb_HealthyNoAlert(t *testing.T) {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	mux.HandleFunc("/health", ok)
	mux.HandleFunc("/ready", ok)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	rec := &recorder{}
	wc := webclient.New(ts.URL, time.Second, time.Second)
	svc := New(rec, &routing.Destination{ChatID: 555}, runtimecfg.NewHolder(), wc, nil, "", 3600, 3, Intervals{Web: time.Minute})
	svc.sleep = func(time.Duration) {}

	svc.CheckWeb(context.Background())
	if rec.count() != 0 {
		t.Errorf("healthy web produced %d alerts, want 0", rec.count())
	}
}

