package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/feeds"
	"remindbot/internal/notifier"
	"remindbot/internal/plugin"
	"remindbot/internal/plugin/builtin/files"
	"remindbot/internal/plugin/builtin/general"
	"remindbot/internal/plugin/builtin/qr"
	"remindbot/internal/plugin/builtin/reminders"
	"remindbot/internal/plugin/builtin/rss"
	"remindbot/internal/plugin/builtin/system"
	"remindbot/internal/plugin/builtin/tasks"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	feeds  *feeds.Fetcher

	remEngine *reminder.Engine
	reminders *reminder.Service

	cmdm *router.CommandManager
	pm   *plugin.Manager

	updates chan kit.Update
}

// LoadConfig reads and validates the config at path without starting
// anything.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenStore opens the store cfg selects.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	cfgm.Commit(cfg)

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg), ad)
	log := root.With(logx.String("comp", "app"))
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	bus := eventbus.New()

	store, err := OpenStore(cfg, comp("storage"))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// the remaining mappings were checked by validate above
	engCfg, _ := mapEngineConfig(cfg)
	ncfg, _ := mapNotifierConfig(cfg)
	fcfg, _ := mapFeedsConfig(cfg)
	rcfg, _ := mapRemindersConfig(cfg)

	engineSvc := engine.New(engCfg, comp("taskengine"), bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, comp("scheduler"))
	notifSvc := notifier.New(ncfg, ad, comp("notifier"), bus)

	disp := reminder.NewDispatcher(notifSvc, store, comp("reminder.dispatch"), bus)
	remEngine := reminder.NewEngine(disp.Dispatch, comp("reminder"),
		reminder.WithPool(engineSvc),
		reminder.WithBus(bus),
		reminder.WithDispatchTimeout(rcfg.DispatchTimeout),
	)
	remSvc := reminder.NewService(store, remEngine, comp("reminder"), bus)

	cmdm := router.NewCommandManager(comp("commands"), ad, cfg.Telegram.OwnerUserIDs)
	cmdm.SetUserHook(func(ctx context.Context, u kit.User) error {
		return store.UpsertUser(ctx, storage.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName})
	})

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		engine:    engineSvc,
		sched:     schedSvc,
		notif:     notifSvc,
		feeds:     feeds.New(fcfg, comp("feeds")),
		remEngine: remEngine,
		reminders: remSvc,
		cmdm:      cmdm,
		updates:   make(chan kit.Update, 256),
	}

	a.pm = plugin.NewManager(comp("plugins"), plugin.Deps{
		Logger:      root,
		Bus:         bus,
		Store:       store,
		Engine:      engineSvc,
		Scheduler:   schedSvc,
		Notifier:    notifSvc,
		Reminders:   remSvc,
		Feeds:       a.feeds,
		Supervisors: a.supervisors,
	}, cmdm)
	a.pm.Register(
		general.New(),
		reminders.New(reminders.Options{AuditSchedule: rcfg.AuditSchedule}),
		tasks.New(),
		rss.New(),
		qr.New(),
		files.New(mapFilesConfig(cfg)),
		system.New(),
	)
	return a, nil
}

func (a *App) Plugins() *plugin.Manager { return a.pm }

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

// Start brings the bot up. Stored reminders are recovered before the
// adapter starts polling, so no command can race the recovery.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.engine.Start(run)
	a.sched.Start(run)
	if err := a.remEngine.Start(run); err != nil {
		return err
	}
	rep, err := a.reminders.Recover(run)
	if err != nil {
		return err
	}

	if err := a.pm.StartAll(run); err != nil {
		a.log.Warn("plugins quarantined at startup", logx.Err(err))
	}
	if err := a.cmdm.PublishMenu(run); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
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

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.RunWatchdog(c, iv, func() bool { return a.Err() == nil }, a.log.With(logx.String("comp", "systemd")))
		})
	}
	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status(fmt.Sprintf("%d reminders armed, %d overdue", rep.Armed, rep.Overdue))

	a.log.Info("app started", logx.Int("armed", rep.Armed), logx.Int("overdue", rep.Overdue))
	return nil
}

// supervisors lists the long-lived supervisors for /health.
func (a *App) supervisors() map[string]*plugin.Supervisor {
	out := map[string]*plugin.Supervisor{}
	add := func(name string, s *rtsup.Supervisor) {
		if s != nil {
			out[name] = s
		}
	}
	add("app", a.sup)
	add("telegram.adapter", a.adapter.Supervisor())
	add("commands", a.cmdm.Supervisor())
	add("task.engine", a.engine.Supervisor())
	add("reminder.engine", a.remEngine.Supervisor())
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason.String()))
	_, _ = systemd.Stopping()

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.stopStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	// Plugins go first; they depend on everything below.
	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	// Disarm before the pool goes away. Rows stay stored for the next start.
	step("reminders", 2*time.Second, a.remEngine.Stop)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// stopStep runs fn with an upper bound so one component can't stall the
// whole stop. The caller's deadline is never extended.
func (a *App) stopStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; no time left", logx.String("name", name))
		return context.DeadlineExceeded
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
		} else if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		// Leak signal: report when/if the step eventually finishes.
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
		return stepCtx.Err()
	}
}
