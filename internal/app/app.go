package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"dynatheme/internal/command"
	"dynatheme/internal/config"
	"dynatheme/internal/eventbus"
	"dynatheme/internal/notify"
	"dynatheme/internal/panel"
	"dynatheme/internal/schedule"
	"dynatheme/internal/settings"
	"dynatheme/internal/switcher"
	"dynatheme/internal/theme"
	logx "dynatheme/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    settings.Store
	sched    *schedule.Service
	desktop  *notify.Desktop
	notifier *notify.Limited
	applier  *theme.Applier
	sw       *switcher.Switcher
	cmds     *command.Registry
	channel  *panel.Channel
	panel    *panel.Server

	sdNotify bool
	logLevel string
}

type options struct {
	notifier notify.Notifier
	sdNotify bool
	logLevel string
}

type Option func(*options)

// WithNotifier replaces the log/desktop notification sinks.
func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithLogLevel overrides logging.level from the config file.
func WithLogLevel(level string) Option { return func(o *options) { o.logLevel = level } }

// WithSystemdNotify enables READY=1/STOPPING=1 notifications to the service manager.
func WithSystemdNotify(enabled bool) Option { return func(o *options) { o.sdNotify = enabled } }

// New loads the config at cfgPath (empty means defaults) and builds every
// component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logCfg := cfg.Logging.Logx()
	if o.logLevel != "" {
		logCfg.Level = o.logLevel
	}
	logSvc, root := logx.New(logCfg)
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	store, err := settings.Open(cfg.Store.Settings(), bus, root.With(logx.String("comp", "settings")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("settings store: %w", err)
	}
	log.Info("settings store opened", logx.String("driver", cfg.Store.Driver), logx.String("path", cfg.Store.Path))

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		sdNotify: o.sdNotify,
		logLevel: o.logLevel,
	}

	sink := o.notifier
	if sink == nil {
		sinks := notify.Multi{notify.NewLog(root.With(logx.String("comp", "notify")))}
		if cfg.Notify.Desktop {
			d, err := notify.NewDesktop("dynatheme", root.With(logx.String("comp", "notify.desktop")))
			if err != nil {
				log.Warn("desktop notifications unavailable; using log only", logx.Err(err))
			} else {
				a.desktop = d
				sinks = append(sinks, d)
			}
		}
		sink = sinks
	}
	a.notifier = notify.NewLimited(sink, cfg.Notify.RatePerSec, root.With(logx.String("comp", "notify")))

	a.sched = schedule.New(cfg.Scheduler.Schedule(), root.With(logx.String("comp", "scheduler")))
	a.applier = theme.NewApplier(store, a.notifier, root.With(logx.String("comp", "theme")))
	a.sw = switcher.New(store, bus, a.sched, a.applier, root.With(logx.String("comp", "switcher")))
	a.cmds = command.NewRegistry(root)
	a.channel = panel.NewChannel(store, a.notifier, root)
	a.panel = panel.NewServer(a.channel, a.cmds, root)
	return a, nil
}

func (a *App) Config() *config.Config       { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger          { return a.log }
func (a *App) Store() settings.Store        { return a.store }
func (a *App) Scheduler() *schedule.Service { return a.sched }
func (a *App) Applier() *theme.Applier      { return a.applier }
func (a *App) Switcher() *switcher.Switcher { return a.sw }
func (a *App) Commands() *command.Registry  { return a.cmds }
func (a *App) Channel() *panel.Channel      { return a.channel }
func (a *App) Panel() *panel.Server         { return a.panel }

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

// Activate starts the scheduler and the switcher and registers the editor
// commands. Start calls it; CLI commands that only need trigger status call
// it directly and pair it with Deactivate.
func (a *App) Activate(ctx context.Context) error {
	a.sched.Start()
	if err := a.sw.Activate(ctx); err != nil {
		a.sched.Stop(context.Background())
		return err
	}
	if err := a.registerCommands(); err != nil {
		_ = a.sw.Deactivate()
		a.sched.Stop(context.Background())
		return err
	}
	return nil
}

// Deactivate undoes Activate.
func (a *App) Deactivate(ctx context.Context) error {
	err := a.sw.Deactivate()
	a.sched.Stop(ctx)
	return err
}

// registerCommands adds the editor commands. Their removal is tied to the
// switcher's teardown.
func (a *App) registerCommands() error {
	cmds := []command.Command{
		{
			ID:    command.OpenUI,
			Title: "Dynamic Theme Switcher: Open Settings",
			Handle: func(ctx context.Context) (any, error) {
				return a.panel.Open()
			},
		},
		{
			ID:      command.ApplyDayTheme,
			Title:   "Dynamic Theme Switcher: Apply Day Theme",
			Timeout: 10 * time.Second,
			Handle: func(ctx context.Context) (any, error) {
				return nil, a.sw.ApplyNow(ctx, switcher.TriggerDay)
			},
		},
		{
			ID:      command.ApplyNightTheme,
			Title:   "Dynamic Theme Switcher: Apply Night Theme",
			Timeout: 10 * time.Second,
			Handle: func(ctx context.Context) (any, error) {
				return nil, a.sw.ApplyNow(ctx, switcher.TriggerNight)
			},
		},
	}
	for _, c := range cmds {
		remove, err := a.cmds.Register(c)
		if err != nil {
			return err
		}
		id := c.ID
		a.sw.OnDeactivate("command "+id, func() error { remove(); return nil })
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Store != a.cfgm.Get().Store {
			a.log.Warn("store config changed; restart required for changes to take effect")
		}
		return nil
	})

	if err := a.Activate(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	if err := a.panel.Apply(a.sup.Context(), a.cfgm.Get().Panel.Panel()); err != nil {
		_ = a.Deactivate(context.Background())
		a.sup.Cancel()
		return err
	}

	if w, ok := a.store.(settings.Watcher); ok {
		a.sup.GoRestart("settings.watch", w.Watch, 250*time.Millisecond, 30*time.Second)
	}

	events, unsub := a.bus.Subscribe(64)
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Strings("keys", e.Keys), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
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
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.sdNotify {
		if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			a.log.Warn("sd_notify ready failed", logx.Err(err))
		} else {
			a.log.Debug("sd_notify ready", logx.Bool("delivered", ok))
		}
	}

	a.log.Info("app started")
	return nil
}

// applyConfig applies the hot-reloadable parts of a new config.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	logCfg := newCfg.Logging.Logx()
	if a.logLevel != "" {
		logCfg.Level = a.logLevel
	}
	a.logs.Apply(logCfg)
	a.sched.SetLocation(newCfg.Scheduler.Schedule().Timezone)
	a.notifier.SetRate(newCfg.Notify.RatePerSec)
	if err := a.panel.Apply(ctx, newCfg.Panel.Panel()); err != nil {
		a.log.Warn("panel reconfigure failed", logx.Err(err))
	}
	if oldCfg.Notify.Desktop != newCfg.Notify.Desktop {
		a.log.Warn("notify.desktop changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sdNotify {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	a.step(ctx, "switcher", 2*time.Second, func(context.Context) error { return a.sw.Deactivate() })
	a.step(ctx, "panel", 2*time.Second, func(c context.Context) error { a.panel.Stop(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// Wait for supervised goroutines (config watch/reload, settings watch) before
	// closing what they use.
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "close", 1*time.Second, func(context.Context) error { return a.Close() })
	return nil
}

// Close releases the store, the desktop connection and log sinks. CLI
// commands that never Start use it directly.
func (a *App) Close() error {
	var firstErr error
	if a.desktop != nil {
		if err := a.desktop.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
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
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it doesn't, report when it finally returns.
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()))
		go func() {
			err := <-done
			a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
