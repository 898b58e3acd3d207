package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"specsync/internal/changefeed"
	"specsync/internal/config"
	"specsync/internal/coord"
	"specsync/internal/eventbus"
	"specsync/internal/executor"
	"specsync/internal/notifier"
	"specsync/internal/observability/ops"
	"specsync/internal/registry"
	rtsup "specsync/internal/runtime/supervisor"
	"specsync/internal/storage"
	"specsync/internal/task/engine"
	"specsync/internal/task/scheduler"
	logx "specsync/pkg/logx"
	"specsync/pkg/systemd"
)

var ErrSessionLost = errors.New("coordination session lost")

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger // comp=app
	base logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	notif    *notifier.Service
	engine   *engine.Service
	sched    *scheduler.Service
	coord    coord.Client
	registry *registry.Registry
	feed     changefeed.Feed
	listener *changefeed.Listener
	ops      *ops.Service
}

// New loads the config and sets up logging. Nothing is connected until
// Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(mapLogConfig(cfg))
	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		base:    log,
		logs:    logSvc,
		bus:     eventbus.New(),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error,
// lost session or Stop()).
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

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return config.Validate(c) })

	root := a.base
	if err := a.startStore(ctx, cfg, root); err != nil {
		return err
	}
	if err := a.startNotifier(cfg, root); err != nil {
		return err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, root.With(logx.String("comp", "taskengine")), a.bus)
	a.engine.Start(a.sup.Context())
	a.sched = scheduler.New(scheduler.Config{Location: time.UTC}, a.engine, root.With(logx.String("comp", "scheduler")), a.bus)
	a.sched.Start(a.sup.Context())

	cl, err := dialCoord(ctx, cfg, coord.Options{
		Namespace:  cfg.Coordination.Namespace,
		InstanceID: cfg.Coordination.InstanceID,
		Scheduler:  a.sched,
		Log:        root.With(logx.String("comp", "coord")),
		Bus:        a.bus,
	})
	if err != nil {
		return fmt.Errorf("coordination: %w", err)
	}
	a.coord = cl
	a.sup.Go("coord.session", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-cl.Done():
			err := cl.Err()
			a.log.Error("coordination session lost", logx.Err(err))
			if err == nil {
				return ErrSessionLost
			}
			return fmt.Errorf("%w: %w", ErrSessionLost, err)
		}
	})

	calc, err := newCalculator(cfg)
	if err != nil {
		return err
	}
	jobs, err := executor.NewFactory(executor.Deps{
		Store:      a.store,
		Calculator: calc,
		Alerts:     a.notif,
		Log:        root.With(logx.String("comp", "executor")),
		Bus:        a.bus,
	})
	if err != nil {
		return err
	}

	a.registry, err = registry.New(registryConfig(cfg), registry.Deps{
		Store: a.store,
		Coord: a.coord,
		Jobs:  jobs,
		Log:   root.With(logx.String("comp", "registry")),
		Bus:   a.bus,
	})
	if err != nil {
		return err
	}
	// Listen before the sweep so changes made during it are not lost.
	if err := a.openChangeFeed(ctx, cfg, root); err != nil {
		return err
	}
	n, err := a.registry.RegisterAll(ctx)
	if err != nil {
		// one bad spec must not keep the rest from running
		a.log.Warn("some specs failed to register", logx.Int("registered", n), logx.Err(err))
	} else {
		a.log.Info("specs registered", logx.Int("registered", n))
	}

	if err := a.startListener(cfg, root); err != nil {
		return err
	}

	a.sup.Go0("eventbus.log", func(c context.Context) { busLogger(c, a.bus, a.log) })
	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	oc, err := mapOpsConfig(cfg)
	if err != nil {
		return err
	}
	a.ops = ops.New(oc, a, root.With(logx.String("comp", "ops")))
	a.ops.Start(a.sup.Context())

	if cfg.Systemd.Notify {
		a.startSystemd()
	}

	a.log.Info("app started", logx.String("instance", instanceID(a.coord)))
	return nil
}

func (a *App) startStore(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(ctx, sc, log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.store = st
	a.log.Info("storage opened", logx.String("driver", sc.Driver))
	return nil
}

func (a *App) startNotifier(cfg *config.Config, log logx.Logger) error {
	sender, err := newSender(cfg, log)
	if err != nil {
		return fmt.Errorf("alert: %w", err)
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, sender, log.With(logx.String("comp", "notifier")), a.bus)
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	a.logs.SetAlertSender(alertBridge{n: a.notif})
	return nil
}

func (a *App) openChangeFeed(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	feed, err := openFeed(ctx, cfg, a.store, log.With(logx.String("comp", "feed")))
	if err != nil {
		return err
	}
	a.feed = feed
	eventbus.Emit(a.bus, "changefeed.opened", nil)
	return nil
}

func (a *App) startListener(cfg *config.Config, log logx.Logger) error {
	interval, err := pollInterval(cfg)
	if err != nil {
		return err
	}
	a.listener, err = changefeed.New(changefeed.Config{Interval: interval}, changefeed.Deps{
		Feed:     a.feed,
		Store:    a.store,
		Registry: a.registry,
		Alerts:   a.notif,
		Log:      log,
		Bus:      a.bus,
	})
	if err != nil {
		return err
	}
	a.sup.GoRestart("changefeed.listener", a.listener.Run, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	return nil
}

func (a *App) startSystemd() {
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd ready notification failed", logx.Err(err))
	} else if !sent {
		a.log.Debug("systemd notify socket not set")
		return
	}
	interval := systemd.WatchdogInterval()
	if interval <= 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.RunWatchdog(c, interval, func() bool {
			ok, _ := a.Healthy()
			return ok
		})
	})
}

// startReload applies config changes that can take effect live and warns
// about the rest.
func (a *App) startReload() {
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
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if ec, err := mapEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ec)
	}

	if nc, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(nc)
		switch {
		case wasEnabled && !nc.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && nc.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if iv, err := pollInterval(newCfg); err != nil {
		a.log.Warn("invalid feed.poll_interval; keeping previous", logx.Err(err))
	} else if a.listener != nil {
		a.listener.SetInterval(iv)
	}

	if oc, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else if a.ops != nil {
		a.ops.Reconfigure(ctx, oc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.cfgm.Get().Systemd.Notify {
		_, _ = systemd.Stopping()
	}

	// Stops the listener and the reload loop before anything they call goes away.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("ops", 1*time.Second, func(c context.Context) error {
		if a.ops != nil {
			a.ops.Stop(c)
		}
		return nil
	})
	step("scheduler", 2*time.Second, func(c context.Context) error {
		if a.sched != nil {
			a.sched.Stop(c)
		}
		return nil
	})
	step("taskengine", 2*time.Second, func(c context.Context) error {
		if a.engine != nil {
			a.engine.Stop(c)
		}
		return nil
	})
	step("coord", 2*time.Second, func(context.Context) error {
		if a.coord != nil {
			return a.coord.Close()
		}
		return nil
	})
	step("notifier", 1*time.Second, func(c context.Context) error {
		if a.notif != nil {
			a.notif.Stop(c)
		}
		return nil
	})
	step("feed", 1*time.Second, func(context.Context) error {
		if a.feed != nil {
			return a.feed.Close()
		}
		return nil
	})
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func instanceID(c coord.Client) string {
	if co, ok := c.(*coord.Coordinator); ok {
		return co.InstanceID()
	}
	return ""
}
