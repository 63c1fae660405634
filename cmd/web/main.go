package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avoronov/sdbridge/common/environment"
	"github.com/avoronov/sdbridge/common/version"
	"github.com/avoronov/sdbridge/internal/web"
	"github.com/avoronov/sdbridge/internal/web/configstore"
	"github.com/avoronov/sdbridge/internal/web/eventlogstore"
	"github.com/avoronov/sdbridge/internal/web/sdclient"
)

func main() {
	setupLogging()
	slog.Info("sdbridge web",
		"version", version.Version,
		"commit", version.GitCommit,
		"build_time", version.BuildTime)

	databaseURL, err := environment.RequiredString("DATABASE_URL")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := configstore.New(pool)
	if err := store.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize config store: %v\n", err)
		os.Exit(1)
	}
	eventlog := eventlogstore.New(pool)
	if err := eventlog.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize eventlog store: %v\n", err)
		os.Exit(1)
	}

	sd := sdclient.New(
		environment.StringOr("SERVICEDESK_BASE_URL", ""),
		environment.StringOr("SERVICEDESK_API_TOKEN", ""),
		environment.DurationSecondsOr("SERVICEDESK_TIMEOUT_S", 5*time.Second),
	)
	if !sd.Configured() {
		slog.Warn("web: ServiceDesk credentials not configured, /sd/open will report errors")
	}

	srv := web.New(web.Config{
		Addr:            environment.StringOr("HTTP_ADDR", ":8000"),
		AdminToken:      environment.StringOr("CONFIG_ADMIN_TOKEN", ""),
		Environment:     environment.StringOr("ENVIRONMENT", "unknown"),
		GitSHA:          environment.StringOr("GIT_SHA", version.GitCommit),
		StrictReadiness: environment.BoolOr("STRICT_READINESS", false),
	}, store, sd, eventlog)

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running web service: %v\n", err)
		os.Exit(1)
	}
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
