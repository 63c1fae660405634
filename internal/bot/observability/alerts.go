// Package observability is the bot's self-monitoring plane: degradation
// probes for the web backend, the state store, and config rollback frequency,
// plus the no-destination and forbidden-send handlers the notification path
// delegates to. Every alert kind is rate-limited independently.
package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// Alert kinds. Each has its own limiter window and cumulative skipped counter.
const (
	KindNoDestination = "no_destination"
	KindForbiddenSend = "forbidden_send"
	KindWebDegraded   = "web_degraded"
	KindStateDegraded = "state_degraded"
	KindRollbackStorm = "rollback_storm"
)

// alertLimiter is a fixed-interval gate for one alert kind. The skipped
// counter is cumulative: a successful send does not reset it.
type alertLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	lastSent time.Time
	skipped  int64
}

// allow reports whether an alert may be sent now, marking the send time when
// it may. Suppressed attempts bump the skipped counter.
func (l *alertLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.lastSent.IsZero() && now.Sub(l.lastSent) < l.interval {
		l.skipped++
		return false
	}
	l.lastSent = now
	return true
}

func (l *alertLimiter) skippedCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skipped
}

func fmtTS(ts time.Time) string {
	if ts.IsZero() {
		return "—"
	}
	return ts.Format("2006-01-02 15:04:05")
}

func buildNoDestinationText(items []ticket.Ticket, rulesCount int, defaultPresent bool,
	serviceIDField, customerIDField string, configVersion int64, configSource string) string {

	tid, name, sid, cid := "—", "—", "—", "—"
	if len(items) > 0 {
		it := items[0]
		if id := it.ID(); id > 0 {
			tid = fmt.Sprintf("%d", id)
		}
		if n := it.Name(); n != "" {
			name = n
		}
		if v, ok := it.IntField(serviceIDField); ok {
			sid = fmt.Sprintf("%d", v)
		}
		if v, ok := it.IntField(customerIDField); ok {
			cid = fmt.Sprintf("%d", v)
		}
	}

	defaultPresentText := "no"
	if defaultPresent {
		defaultPresentText = "yes"
	}

	lines := []string{
		"⚠️ Ticket without destination",
		"",
		"Ticket:",
		"- id: " + tid,
		"- name: " + name,
		"- " + serviceIDField + ": " + sid,
		"- " + customerIDField + ": " + cid,
		"",
		"Routing:",
		fmt.Sprintf("- rules_count: %d", rulesCount),
		"- default_dest_present: " + defaultPresentText,
		fmt.Sprintf("- config_version: %d", configVersion),
		"- config_source: " + configSource,
		"",
		"Action: проверь routing-конфиг (rules/default_dest).",
	}
	return strings.Join(lines, "\n")
}

func buildForbiddenSendText(chatID, threadID int64, context, errText string) string {
	thread := "—"
	if threadID != 0 {
		thread = fmt.Sprintf("%d", threadID)
	}
	lines := []string{
		"⚠️ Forbidden send",
		"",
		fmt.Sprintf("- chat_id: %d", chatID),
		"- thread_id: " + thread,
		"- context: " + context,
		"- error: " + errText,
		"",
		"Action: проверь, что бот добавлен в чат и тред существует.",
	}
	return strings.Join(lines, "\n")
}

func buildWebDegradedText(healthOK, readyOK bool, healthStatus, readyStatus int) string {
	okText := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "fail"
	}
	lines := []string{
		"⚠️ Web деградировал",
		"",
		fmt.Sprintf("- health: %s (status=%d)", okText(healthOK), healthStatus),
		fmt.Sprintf("- ready: %s (status=%d)", okText(readyOK), readyStatus),
		"",
		"Action: проверь web /health и /ready.",
	}
	return strings.Join(lines, "\n")
}

func buildStateDegradedText(errText string, lastOK time.Time) string {
	if errText == "" {
		errText = "—"
	}
	lines := []string{
		"⚠️ Redis деградировал",
		"",
		"- last_ok: " + fmtTS(lastOK),
		"- error: " + errText,
		"",
		"Action: проверь Redis и сеть.",
	}
	return strings.Join(lines, "\n")
}

func buildRollbacksText(count, windowS int, lastAt string) string {
	if lastAt == "" {
		lastAt = "—"
	}
	lines := []string{
		"⚠️ Частые rollback конфигурации",
		"",
		fmt.Sprintf("- window_s: %d", windowS),
		fmt.Sprintf("- count: %d", count),
		"- last_rollback_at: " + lastAt,
		"",
		"Action: проверь /config/history и причины откатов.",
	}
	return strings.Join(lines, "\n")
}
