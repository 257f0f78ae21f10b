package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"toonbot/internal/bot"
	"toonbot/internal/broadcast"
	"toonbot/internal/config"
	"toonbot/internal/feed"
	"toonbot/internal/messenger"
	"toonbot/internal/storage"
	"toonbot/pkg/logx"
)

// App wires the whole bot together with plain constructor composition and
// owns the lifecycle of every service.
type App struct {
	mgr    *config.Manager
	logsvc *logx.Service
	log    logx.Logger

	store       storage.Store
	sender      *messenger.Sender
	webhook     *messenger.Webhook
	broadcaster *broadcast.Service

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))
	mgr.SetValidator(func(c *config.Config) error { return c.Validate() })

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	fetchTimeout, err := config.ParseDurationOrDefault("fetcher.timeout", cfg.Fetcher.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	fetcher, err := feed.NewHTTPFetcher(feed.HTTPConfig{
		URLTemplate: cfg.Feeds.URLTemplate,
		Timeout:     fetchTimeout,
		RatePerSec:  cfg.Fetcher.RatePerSec,
	}, log.With(logx.String("component", "fetcher")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sender, err := messenger.NewSender(messenger.SenderConfig{
		AccessToken: cfg.Messenger.AccessToken,
		APIBase:     cfg.Messenger.APIBase,
		Workers:     cfg.Messenger.Workers,
		QueueSize:   cfg.Messenger.QueueSize,
		RatePerSec:  cfg.Messenger.RatePerSec,
	}, log.With(logx.String("component", "sender")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	engine := bot.NewEngine(store, fetcher, sender, cfg.Feeds.Defaults,
		log.With(logx.String("component", "engine")))
	router := bot.NewRouter(engine, log.With(logx.String("component", "router")))

	webhook := messenger.NewWebhook(messenger.WebhookConfig{
		Addr:        cfg.Messenger.Addr,
		VerifyToken: cfg.Messenger.VerifyToken,
	}, router, log.With(logx.String("component", "webhook")))

	interval, err := config.ParseDurationOrDefault("broadcast.interval", cfg.Broadcast.Interval, time.Hour)
	if err != nil {
		return nil, err
	}
	broadcaster := broadcast.New(broadcast.Config{
		Enabled:    cfg.Broadcast.Enabled,
		Interval:   interval,
		Workers:    cfg.Broadcast.Workers,
		RatePerSec: cfg.Broadcast.RatePerSec,
		Timezone:   cfg.Broadcast.Timezone,
	}, store, engine, log.With(logx.String("component", "broadcast")))

	return &App{
		mgr:         mgr,
		logsvc:      logsvc,
		log:         log,
		store:       store,
		sender:      sender,
		webhook:     webhook,
		broadcaster: broadcaster,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.sender.Start(rctx)
	if err := a.webhook.Start(rctx); err != nil {
		cancel()
		return err
	}
	if err := a.broadcaster.Start(rctx); err != nil {
		cancel()
		return err
	}

	// Config hot reload: only ambient knobs are reapplied live; transport
	// and storage changes need a restart.
	reload := a.mgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.mgr.Watch(rctx)
	}()
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-rctx.Done():
				return
			case cfg, ok := <-reload:
				if !ok {
					return
				}
				a.logsvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("logging config reapplied")
			}
		}
	}()

	a.log.Info("toonbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	// Stop intake first, then the sweep, then outbound, then state.
	a.webhook.Stop(ctx)
	a.broadcaster.Stop(ctx)
	a.sender.Stop(ctx)

	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	err := a.store.Close()
	a.log.Info("toonbot stopped")
	_ = a.logsvc.Close()
	return err
}
