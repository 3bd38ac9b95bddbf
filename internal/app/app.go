// Package app assembles the pipeline: cache, storage, upstream client,
// task engine, scheduler, fanout and delivery, plus the optional
// Telegram status bot and metrics endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pinger/internal/bot"
	"pinger/internal/cache"
	"pinger/internal/config"
	"pinger/internal/delivery"
	"pinger/internal/eventbus"
	"pinger/internal/fanout"
	"pinger/internal/metadata"
	"pinger/internal/metrics"
	"pinger/internal/render"
	"pinger/internal/sched"
	"pinger/internal/storage"
	"pinger/internal/task/engine"
	"pinger/internal/upstream"
	logx "pinger/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	cache cache.Cache
	store storage.Store

	engine  *engine.Service
	sched   *sched.Service
	fanout  *fanout.Service
	deliver *delivery.Service
	met     *metrics.Metrics
	metrics *metrics.Server
	bot     *bot.Service

	busUnsub func()
	busDone  chan struct{}

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("component", "app"))
	cfgm.SetLogger(log)
	cfgm.OnChange(func(next *config.Config) {
		logs.Apply(mapLogging(next))
	})

	keyPrefix := cfg.Cache.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "pinger"
	}

	c, err := cache.NewRedis(ctx, cache.Config{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("app: cache: %w", err)
	}

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout}, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("app: storage: %w", err)
	}

	upTimeout, err := config.ParseDurationOrDefault("upstream.timeout", cfg.Upstream.Timeout, config.DefaultUpstreamTimeout)
	if err != nil {
		return nil, err
	}
	up, err := upstream.New(upstream.Config{
		BaseURL:    cfg.Upstream.BaseURL,
		Token:      cfg.Upstream.Token,
		Timeout:    upTimeout,
		RatePerSec: float64(cfg.Upstream.RatePerSec),
		Burst:      cfg.Upstream.Burst,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("app: upstream: %w", err)
	}

	meta := metadata.New(store, up, log)
	renderer := render.New(meta)

	met := metrics.New()
	metSrv := metrics.NewServer(metrics.Config{Enabled: cfg.Metrics.Enabled, Addr: metricsAddr(cfg)}, met, log)

	bus := eventbus.New()
	eng := engine.New(engine.Config{
		Workers:   cfg.Engine.Workers,
		QueueSize: cfg.Engine.QueueSize,
	}, log, bus)
	met.ObserveQueueDepth(func() float64 { return float64(eng.Snapshot().QueueLen) })

	window, err := config.ParseDurationOrDefault("pinger.window", cfg.Pinger.Window, config.DefaultWindow)
	if err != nil {
		return nil, err
	}
	bootstrap, err := config.ParseDurationOrDefault("pinger.bootstrap_interval", cfg.Pinger.BootstrapInterval, config.DefaultBootstrapInterval)
	if err != nil {
		return nil, err
	}
	stale, err := config.ParseDurationOrDefault("pinger.stale_after", cfg.Pinger.StaleAfter, config.DefaultStaleAfter)
	if err != nil {
		return nil, err
	}
	dedup, err := config.ParseDurationOrDefault("pinger.dedup_window", cfg.Pinger.DedupWindow, config.DefaultDedupWindow)
	if err != nil {
		return nil, err
	}
	deliverTimeout, err := config.ParseDurationOrDefault("delivery.timeout", cfg.Delivery.Timeout, config.DefaultDeliveryTimeout)
	if err != nil {
		return nil, err
	}
	rateMargin, err := config.ParseDurationOrDefault("delivery.rate_margin", cfg.Delivery.RateMargin, config.DefaultRateMargin)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := config.ParseDurationOrDefault("delivery.sweep_interval", cfg.Delivery.SweepInterval, config.DefaultSweepInterval)
	if err != nil {
		return nil, err
	}

	deliver := delivery.New(delivery.Config{
		Timeout:       deliverTimeout,
		RateMargin:    rateMargin,
		SweepInterval: sweepInterval,
		KeyPrefix:     keyPrefix,
	}, c, store, eng, met, log)

	fan := fanout.New(fanout.Config{
		DedupWindow: dedup,
		KeyPrefix:   keyPrefix,
	}, c, store, renderer, meta, deliver, met, log)

	roster := newLimitedRoster(up, cfg.Pinger.CorporationLimiter, cfg.Pinger.AllianceLimiter, meta, log)
	sc := sched.New(sched.Config{
		Window:            window,
		BootstrapInterval: bootstrap,
		StaleAfter:        stale,
		DedupWindow:       dedup,
		KeyPrefix:         keyPrefix,
	}, c, store, roster, eng, met, log)
	sc.OnNewEvents(func() {
		if err := eng.Enqueue(fan.Job()); err != nil && !errors.Is(err, engine.ErrOverlapSkip) {
			log.Warn("fanout enqueue failed", logx.Err(err))
		}
	})

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		cache:   c,
		store:   store,
		engine:  eng,
		sched:   sc,
		fanout:  fan,
		deliver: deliver,
		met:     met,
		metrics: metSrv,
	}

	if tg := cfg.Telegram; tg != nil && tg.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", tg.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		b, err := bot.New(bot.Config{
			Token:        tg.Token,
			AdminUserIDs: tg.AdminUserIDs,
			PollTimeout:  pollTimeout,
		}, statusView{roster: roster, sched: sc}, log)
		if err != nil {
			return nil, fmt.Errorf("app: bot: %w", err)
		}
		a.bot = b
	}
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.metrics.Start()

	events, unsub := a.bus.Subscribe(64)
	a.busUnsub = unsub
	a.busDone = make(chan struct{})
	go a.countJobEvents(events)

	a.engine.Start(ctx)
	if err := a.deliver.Start(ctx); err != nil {
		return err
	}
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if a.bot != nil {
		if err := a.bot.Start(ctx); err != nil {
			return err
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		if err := a.cfgm.Watch(wctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("pinger started")
	return nil
}

func (a *App) Stop(ctx context.Context) {
	if a.watchCancel != nil {
		a.watchCancel()
		<-a.watchDone
	}
	if a.bot != nil {
		_ = a.bot.Stop(ctx)
	}
	a.sched.Stop()
	a.deliver.Stop()
	a.engine.Stop(ctx)
	if a.busUnsub != nil {
		a.busUnsub()
		<-a.busDone
	}
	a.metrics.Stop(ctx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		a.log.Warn("cache close failed", logx.Err(err))
	}
	a.log.Info("pinger stopped")
	_ = a.logs.Close()
}

// countJobEvents drains the engine's lifecycle events into the job
// result counters. Runs until the subscription is torn down.
func (a *App) countJobEvents(events <-chan eventbus.Event) {
	defer close(a.busDone)
	for e := range events {
		switch e.Type {
		case "job.finished":
			a.met.EngineJobs.WithLabelValues(metrics.ResultFinished).Inc()
		case "job.failed":
			a.met.EngineJobs.WithLabelValues(metrics.ResultFailed).Inc()
		}
	}
}

// statusView pairs the limited roster with the scheduler bookmarks for
// the bot's stats command.
type statusView struct {
	roster *limitedRoster
	sched  *sched.Service
}

func (v statusView) Corporations(ctx context.Context) ([]upstream.Corporation, error) {
	return v.roster.Corporations(ctx)
}

func (v statusView) State(ctx context.Context, corporationID int64) (sched.ScheduleState, bool, error) {
	return v.sched.State(ctx, corporationID)
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func metricsAddr(cfg *config.Config) string {
	if cfg.Metrics.Addr != "" {
		return cfg.Metrics.Addr
	}
	return "127.0.0.1:9190"
}
