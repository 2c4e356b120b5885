package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"winkdrops/internal/alerts"
	"winkdrops/internal/config"
	"winkdrops/internal/eventbus"
	"winkdrops/internal/metrics"
	"winkdrops/internal/nudge"
	"winkdrops/internal/outbox"
	"winkdrops/internal/permission"
	"winkdrops/internal/platform"
	rtsup "winkdrops/internal/runtime/supervisor"
	"winkdrops/internal/scanner"
	"winkdrops/internal/schedule"
	"winkdrops/internal/storage"
	"winkdrops/internal/transport/telegram"
	logx "winkdrops/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	kv   storage.KV

	platform platform.Platform
	perm     *permission.Controller
	settings *alerts.SettingsStore
	alerts   *alerts.Presenter
	store    *schedule.Store
	outbox   *outbox.Outbox
	nudges   *nudge.Service
	scanner  *scanner.Service
	bot      *telegram.Bot
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	bus := eventbus.New()
	comp := log.Named

	kv, err := storage.Open(mapStorageConfig(cfg), comp("storage"))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	var (
		bot    *telegram.Bot
		sender platform.TextSender
	)
	if tc := cfg.Telegram; tc != nil && strings.TrimSpace(tc.Token) != "" {
		bot, err = telegram.New(telegram.Config{
			Token:        tc.Token,
			OwnerUserIDs: tc.OwnerUserIDs,
			PollTimeout:  tc.PollTimeoutDuration(),
		}, comp("telegram"))
		if err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = bot
	}

	// The FCM client keeps this context for token refresh, so it must outlive New.
	plat, _, err := platform.Open(context.Background(), mapPlatformConfig(cfg, sender), comp("platform"))
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("push: %w", err)
	}

	perm := permission.New(plat, cfg.Push.VAPIDPublicKey, comp("permission"), bus)
	settings := alerts.NewSettingsStore(kv, comp("settings"))
	presenter := alerts.NewPresenter(mapAlertsConfig(cfg), plat, perm, settings, comp("alerts"), bus)

	store := schedule.New(kv, comp("schedule"), bus, schedule.WithLocation(cfg.Scheduler.Location()))
	ob := outbox.New(kv, cfg.Alerts.OutboxSize, presenter, comp("outbox"), bus)
	nudges := nudge.New(store, presenter, comp("nudge"))
	scan := scanner.New(mapScannerConfig(cfg), store, ob, comp("scanner"), bus)

	if bot != nil {
		bot.Register(&telegram.Commands{
			Scheduler:  nudges,
			Subscriber: perm,
			Settings:   settings,
			Sent:       ob,
			Location:   cfg.Scheduler.Location(),
		})
	}

	return &App{
		cfgm:     cfgm,
		log:      comp("app"),
		logs:     logSvc,
		bus:      bus,
		kv:       kv,
		platform: plat,
		perm:     perm,
		settings: settings,
		alerts:   presenter,
		store:    store,
		outbox:   ob,
		nudges:   nudges,
		scanner:  scan,
		bot:      bot,
	}, nil
}

// Nudges exposes the scheduling surface.
func (a *App) Nudges() *nudge.Service { return a.nudges }

func (a *App) Outbox() *outbox.Outbox { return a.outbox }

func (a *App) Permission() *permission.Controller { return a.perm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start restores persisted state, reconciles permission silently, then starts
// the alert pipeline, the scanner, the chat bot, the metrics listener and the
// config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.Named("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		ac := mapAlertsConfig(cfg)
		if ac.RetryBase > ac.RetryMaxDelay {
			return fmt.Errorf("alerts.retry_base (%s) exceeds alerts.retry_max_delay (%s)", ac.RetryBase, ac.RetryMaxDelay)
		}
		return nil
	})

	if err := a.store.Load(runCtx); err != nil {
		a.log.Warn("scheduled sends not restored", logx.Err(err))
	}
	if err := a.settings.Load(runCtx); err != nil {
		a.log.Warn("notification settings not restored", logx.Err(err))
	}
	if err := a.outbox.Load(runCtx); err != nil {
		a.log.Warn("outbox not restored", logx.Err(err))
	}

	st := a.perm.Refresh(runCtx)
	a.log.Info("notification permission", logx.String("state", string(st)), logx.String("platform", a.platform.Name()))

	a.alerts.Start(runCtx)
	a.scanner.Start(runCtx)
	if a.bot != nil {
		a.bot.Start(runCtx)
	}

	if addr := strings.TrimSpace(a.cfgm.Get().Metrics.Addr); addr != "" {
		push := metrics.Route{Method: http.MethodPost, Path: "/v1/push", Handler: a.alerts.PushHandler()}
		mlog := a.log.Named("metrics")
		a.sup.Go("metrics.serve", func(c context.Context) error {
			return metrics.Serve(c, addr, mlog, push)
		})
	}

	events, unsub := a.bus.Subscribe("", 128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("scheduled", a.store.Len()), logx.Duration("scan_interval", a.scanner.Interval()))
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage", "push", "telegram", "metrics":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.alerts.Apply(mapAlertsConfig(newCfg))
	a.scanner.Apply(mapScannerConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("panic in stop step", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(stepCtx)
		}()
		select {
		case <-done:
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Scanner first so no tick dispatches into a stopping pipeline.
	step("scanner", 2*time.Second, a.scanner.Stop)
	step("telegram", 2*time.Second, func(c context.Context) {
		if a.bot != nil {
			a.bot.Stop(c)
		}
	})
	step("alerts", 2*time.Second, a.alerts.Stop)
	step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) {
		if err := a.kv.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
