// Package commands implements the bot's chat command set: /start, /ping,
// /status, /needs_web, /sd_open. Commands that depend on the web service go
// through a readiness guard so a degraded backend produces a friendly message
// instead of a stack trace.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/avoronov/sdbridge/internal/bot/escalation"
	"github.com/avoronov/sdbridge/internal/bot/poller"
	"github.com/avoronov/sdbridge/internal/bot/runtimecfg"
	"github.com/avoronov/sdbridge/internal/bot/sdweb"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
	"github.com/avoronov/sdbridge/internal/bot/webclient"
)

// PingReply is the /ping response. Stable on purpose: deploy smoke checks
// grep for it.
const PingReply = "pong ✅"

// sdOpenLimit caps the list shown by /sd_open; the poller uses its own,
// larger limit.
const sdOpenLimit = 20

// Handlers carries the dependencies the command set reads from.
type Handlers struct {
	Web     *webclient.Client
	SD      *sdweb.Client
	Poller  *poller.Poller
	Holder  *runtimecfg.Holder
	Tracker *escalation.Tracker

	Environment string
	GitSHA      string
	AlertChatID string
}

// Register wires the command handlers into the bot's dispatcher.
func (h *Handlers) Register(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.guarded(h.cmdStart))
	b.RegisterHandler(bot.HandlerTypeMessageText, "/ping", bot.MatchTypePrefix, h.guarded(h.cmdPing))
	b.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix, h.guarded(h.cmdStatus))
	b.RegisterHandler(bot.HandlerTypeMessageText, "/needs_web", bot.MatchTypePrefix, h.guarded(h.cmdNeedsWeb))
	b.RegisterHandler(bot.HandlerTypeMessageText, "/sd_open", bot.MatchTypePrefix, h.guarded(h.cmdSDOpen))
}

// guarded is the top-level handler boundary: a panicking handler is logged
// and swallowed so the update loop survives.
func (h *Handlers) guarded(fn bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("commands: handler panic", "panic", r)
			}
		}()
		fn(ctx, b, update)
	}
}

func (h *Handlers) reply(ctx context.Context, b *bot.Bot, update *models.Update, text string) {
	if update.Message == nil {
		return
	}
	params := &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
	}
	if update.Message.MessageThreadID != 0 {
		params.MessageThreadID = update.Message.MessageThreadID
	}
	if _, err := b.SendMessage(ctx, params); err != nil {
		slog.Error("commands: reply failed", "chat_id", update.Message.Chat.ID, "err", err)
	}
}

// requireWeb gates web-dependent commands. /status deliberately bypasses it:
// showing degradation is its job.
func (h *Handlers) requireWeb(ctx context.Context, b *bot.Bot, update *models.Update, friendlyName string) bool {
	health, ready := h.Web.CheckHealthReady(ctx, false)
	if health.OK && ready.OK {
		return true
	}

	var text string
	if !health.OK {
		text = "Сервис временно недоступен (web не отвечает). Попробуйте позже."
	} else {
		text = "Сервис временно недоступен (web ещё не готов). Попробуйте позже."
	}
	if friendlyName != "" {
		text = fmt.Sprintf("Команда «%s» сейчас недоступна. %s", friendlyName, text)
	}
	h.reply(ctx, b, update, text)
	return false
}

func (h *Handlers) cmdStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.reply(ctx, b, update, "Привет! Команды: /ping /status /needs_web /sd_open")
}

func (h *Handlers) cmdPing(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.reply(ctx, b, update, PingReply)
}

func (h *Handlers) cmdNeedsWeb(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !h.requireWeb(ctx, b, update, "/needs_web") {
		return
	}
	h.reply(ctx, b, update, "web готов ✅")
}

func (h *Handlers) cmdStatus(ctx context.Context, b *bot.Bot, update *models.Update) {
	health, ready := h.Web.CheckHealthReady(ctx, true)
	stats := h.Poller.Stats()
	cfg := h.Holder.Current()

	alertChat := h.AlertChatID
	if alertChat == "" {
		alertChat = "—"
	}

	lines := []string{
		"ENVIRONMENT: " + h.Environment,
		"GIT_SHA: " + h.GitSHA,
		"WEB_BASE_URL: " + h.Web.BaseURL(),
		"ALERT_CHAT_ID: " + alertChat,
		"",
		formatCheckLine("web.health", health),
		formatCheckLine("web.ready", ready),
		"",
		fmt.Sprintf("CONFIG: version=%d source=%s rules=%d escalation=%v",
			cfg.Version, cfg.Source, len(cfg.Rules), cfg.Escalation.Enabled),
		fmt.Sprintf("ESCALATION TRACKED: %d", h.Tracker.Tracked()),
		"",
		"SD QUEUE POLLING:",
		fmt.Sprintf("- runs: %d", stats.Runs),
		fmt.Sprintf("- failures: %d (consecutive=%d)", stats.Failures, stats.ConsecutiveFailures),
		"- last_run: " + fmtTS(stats.LastRunAt),
		"- last_success: " + fmtTS(stats.LastSuccessAt),
		"- last_error: " + orDash(stats.LastError),
		fmt.Sprintf("- last_duration_ms: %d", stats.LastDurationMS),
		"- last_sent_at: " + fmtTS(stats.LastSentAt),
		fmt.Sprintf("- last_sent_count: %d", stats.LastSentCount),
		"- last_sent_snapshot: " + orDash(stats.LastSentSnapshot),
		fmt.Sprintf("- last_sent_ids: %v", stats.LastSentIDs),
	}
	h.reply(ctx, b, update, strings.Join(lines, "\n"))
}

func (h *Handlers) cmdSDOpen(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !h.requireWeb(ctx, b, update, "/sd_open") {
		return
	}

	res := h.SD.GetOpen(ctx, sdOpenLimit)
	if !res.OK {
		text := "❌ Не удалось получить заявки из ServiceDesk."
		if res.RequestID != "" {
			text += "\nrequest_id=" + res.RequestID
		}
		text += "\nПричина: " + res.Err
		h.reply(ctx, b, update, text)
		return
	}
	if len(res.Items) == 0 {
		h.reply(ctx, b, update, "📌 Открытых заявок нет ✅")
		return
	}

	lines := []string{fmt.Sprintf("📌 Открытые заявки: %d", res.CountReturned), ""}
	for _, it := range ticket.SortByID(res.Items) {
		lines = append(lines, fmt.Sprintf("- #%d: %s", it.ID(), it.Name()))
	}
	h.reply(ctx, b, update, strings.Join(lines, "\n"))
}

func formatCheckLine(title string, c webclient.CheckResult) string {
	icon := "✅"
	if !c.OK {
		icon = "❌"
	}
	line := fmt.Sprintf("%s %s: status=%d, %dms, request_id=%s", icon, title, c.Status, c.DurationMS, c.RequestID)
	if c.Err != "" {
		line += ", err=" + c.Err
	}
	return line
}

func fmtTS(ts time.Time) string {
	if ts.IsZero() {
		return "—"
	}
	return ts.Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
