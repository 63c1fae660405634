// Package app assembles the bot process: construction of every component,
// background loop startup, and orderly shutdown in reverse order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"

	"github.com/avoronov/sdbridge/internal/bot/chat"
	"github.com/avoronov/sdbridge/internal/bot/commands"
	"github.com/avoronov/sdbridge/internal/bot/escalation"
	"github.com/avoronov/sdbridge/internal/bot/notify"
	"github.com/avoronov/sdbridge/internal/bot/observability"
	"github.com/avoronov/sdbridge/internal/bot/poller"
	"github.com/avoronov/sdbridge/internal/bot/routing"
	"github.com/avoronov/sdbridge/internal/bot/runtimecfg"
	"github.com/avoronov/sdbridge/internal/bot/sdweb"
	"github.com/avoronov/sdbridge/internal/bot/state"
	"github.com/avoronov/sdbridge/internal/bot/webclient"
)

// Config holds everything the bot needs, resolved from the environment by
// cmd/bot before construction.
type Config struct {
	TelegramToken string
	WebBaseURL    string

	SDWebTimeout time.Duration
	WebTimeout   time.Duration
	WebCacheTTL  time.Duration

	PollInterval   time.Duration
	PollMaxBackoff time.Duration

	ConfigSyncInterval time.Duration
	ConfigAdminToken   string

	// RedisURL enables the Redis state store; empty keeps state in memory.
	RedisURL string

	// AlertDest is the env-level default notification destination, used when
	// the runtime config has no default_dest. AdminDest receives admin alerts;
	// nil degrades alerts to log lines.
	AlertDest *routing.Destination
	AdminDest *routing.Destination

	AlertIntervals    observability.Intervals
	ProbePeriod       time.Duration
	RollbackWindowS   int
	RollbackThreshold int

	Environment string
	GitSHA      string
	AlertChatID string // raw env value, echoed by /status
}

// App owns the constructed components and their background loops.
type App struct {
	cfg Config

	tbot    *bot.Bot
	store   state.Store
	redis   *state.RedisStore // non-nil when RedisURL was set; closed on Stop
	holder  *runtimecfg.Holder
	syncer  *runtimecfg.Syncer
	tracker *escalation.Tracker
	poller  *poller.Poller
	obs     *observability.Service

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs the full component graph. It does not start any loop.
func New(cfg Config) (*App, error) {
	tbot, err := bot.New(cfg.TelegramToken, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("app: telegram client: %w", err)
	}
	sender := chat.NewTelegramSender(tbot, cfg.TelegramToken)

	var (
		store      state.Store
		redisStore *state.RedisStore
	)
	if cfg.RedisURL != "" {
		redisStore, err = state.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("app: state store: %w", err)
		}
		store = redisStore
	} else {
		slog.Warn("app: REDIS_URL not set, state is in-memory only")
		store = state.NewMemoryStore()
	}

	holder := runtimecfg.NewHolder()
	syncer := runtimecfg.NewSyncer(holder, cfg.WebBaseURL, cfg.WebTimeout, cfg.ConfigSyncInterval)

	webClient := webclient.New(cfg.WebBaseURL, cfg.WebTimeout, cfg.WebCacheTTL)
	sdClient := sdweb.New(cfg.WebBaseURL, cfg.SDWebTimeout)

	obs := observability.New(sender, cfg.AdminDest, holder, webClient, store,
		cfg.ConfigAdminToken, cfg.RollbackWindowS, cfg.RollbackThreshold, cfg.AlertIntervals)

	notifySvc := notify.New(sender, holder, syncer, obs, cfg.AlertDest)

	tracker := escalation.NewTracker(store)
	queuePoller := poller.New(sdClient, notifySvc, tracker, holder, store,
		cfg.PollInterval, cfg.PollMaxBackoff, poller.DefaultFetchLimit)

	handlers := &commands.Handlers{
		Web:         webClient,
		SD:          sdClient,
		Poller:      queuePoller,
		Holder:      holder,
		Tracker:     tracker,
		Environment: cfg.Environment,
		GitSHA:      cfg.GitSHA,
		AlertChatID: cfg.AlertChatID,
	}
	handlers.Register(tbot)

	return &App{
		cfg:     cfg,
		tbot:    tbot,
		store:   store,
		redis:   redisStore,
		holder:  holder,
		syncer:  syncer,
		tracker: tracker,
		poller:  queuePoller,
		obs:     obs,
	}, nil
}

// Run starts every background loop and the Telegram update dispatcher, then
// blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// Load what we can before the loops start; all of these degrade cleanly.
	a.syncer.Pull(ctx)
	if err := a.tracker.Load(ctx); err != nil {
		slog.Warn("app: escalation state load failed, starting clean", "err", err)
	}
	a.poller.Restore(ctx)

	a.spawn(func() { a.syncer.Run(ctx) })
	a.spawn(func() { a.poller.Run(ctx) })
	a.spawn(func() { a.obs.RunProbeLoop(ctx, "web", a.cfg.ProbePeriod, a.obs.CheckWeb) })
	a.spawn(func() { a.obs.RunProbeLoop(ctx, "state", a.cfg.ProbePeriod, a.obs.CheckState) })
	a.spawn(func() { a.obs.RunProbeLoop(ctx, "rollbacks", a.cfg.ProbePeriod, a.obs.CheckRollbacks) })

	slog.Info("bot started",
		"web_base_url", a.cfg.WebBaseURL,
		"poll_interval", a.cfg.PollInterval,
		"alert_chat_id", a.cfg.AlertChatID)

	// Blocks until ctx is canceled; handler dispatch happens inside.
	a.tbot.Start(ctx)
	return nil
}

func (a *App) spawn(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Stop cancels the loops and waits for them, then closes resources in reverse
// construction order.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("app: redis close", "err", err)
		}
	}
	slog.Info("bot stopped")
}
