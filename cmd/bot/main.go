package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avoronov/sdbridge/common/environment"
	"github.com/avoronov/sdbridge/common/version"
	"github.com/avoronov/sdbridge/internal/bot/app"
	"github.com/avoronov/sdbridge/internal/bot/observability"
	"github.com/avoronov/sdbridge/internal/bot/routing"
)

func main() {
	setupLogging()
	slog.Info("sdbridge bot",
		"version", version.Version,
		"commit", version.GitCommit,
		"build_time", version.BuildTime)

	token, err := environment.RequiredString("TELEGRAM_BOT_TOKEN")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig(token)

	application, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize bot: %v\n", err)
		os.Exit(1)
	}
	defer application.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running bot: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(token string) app.Config {
	return app.Config{
		TelegramToken: token,
		WebBaseURL:    environment.StringOr("WEB_BASE_URL", "http://web:8000"),

		SDWebTimeout: environment.DurationSecondsOr("SD_WEB_TIMEOUT_S", 3*time.Second),
		WebTimeout:   environment.DurationSecondsOr("WEB_TIMEOUT_S", 1500*time.Millisecond),
		WebCacheTTL:  environment.DurationSecondsOr("WEB_CACHE_TTL_S", 3*time.Second),

		PollInterval:   environment.DurationSecondsOr("POLL_INTERVAL_S", 30*time.Second),
		PollMaxBackoff: environment.DurationSecondsOr("POLL_MAX_BACKOFF_S", 300*time.Second),

		ConfigSyncInterval: environment.DurationSecondsOr("CONFIG_SYNC_INTERVAL_S", 30*time.Second),
		ConfigAdminToken:   environment.StringOr("CONFIG_ADMIN_TOKEN", ""),

		RedisURL: environment.StringOr("REDIS_URL", ""),

		AlertDest: destFromEnv("ALERT"),
		AdminDest: adminDestFromEnv(),

		AlertIntervals: observability.Intervals{
			Admin:    environment.DurationSecondsOr("ADMIN_ALERT_MIN_INTERVAL_S", 5*time.Minute),
			Web:      environment.DurationSecondsOr("WEB_ALERT_MIN_INTERVAL_S", 10*time.Minute),
			State:    environment.DurationSecondsOr("STATE_ALERT_MIN_INTERVAL_S", 10*time.Minute),
			Rollback: environment.DurationSecondsOr("ROLLBACK_ALERT_MIN_INTERVAL_S", 15*time.Minute),
		},
		ProbePeriod:       environment.DurationSecondsOr("PROBE_PERIOD_S", time.Minute),
		RollbackWindowS:   environment.IntOr("ROLLBACK_WINDOW_S", 3600),
		RollbackThreshold: environment.IntOr("ROLLBACK_THRESHOLD", 3),

		Environment: environment.StringOr("ENVIRONMENT", "unknown"),
		GitSHA:      environment.StringOr("GIT_SHA", version.GitCommit),
		AlertChatID: environment.StringOr("ALERT_CHAT_ID", ""),
	}
}

// destFromEnv reads <prefix>_CHAT_ID / <prefix>_THREAD_ID. A missing or
// unparseable chat id means no destination.
func destFromEnv(prefix string) *routing.Destination {
	chatID := environment.Int64Or(prefix+"_CHAT_ID", 0)
	if chatID == 0 {
		return nil
	}
	return &routing.Destination{
		ChatID:   chatID,
		ThreadID: environment.Int64Or(prefix+"_THREAD_ID", 0),
	}
}

// adminDestFromEnv prefers the dedicated admin alert channel and falls back
// to the general alert channel.
func adminDestFromEnv() *routing.Destination {
	if d := destFromEnv("ADMIN_ALERT"); d != nil {
		return d
	}
	return destFromEnv("ALERT")
}

func setupLogging() {
	level := slog.LevelInfo
	switch environment.StringOr("LOG_LEVEL", "INFO") {
	case "DEBUG", "debug":
		level = slog.LevelDebug
	case "WARN", "warn":
		level = slog.LevelWarn
	case "ERROR", "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
