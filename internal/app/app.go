package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"plankabot/internal/commands"
	"plankabot/internal/config"
	"plankabot/internal/eventbus"
	"plankabot/internal/notifier"
	"plankabot/internal/ops"
	"plankabot/internal/planka"
	rtsup "plankabot/internal/runtime/supervisor"
	"plankabot/internal/storage"
	kit "plankabot/internal/transport"
	telegram "plankabot/internal/transport/telegram/adapter"
	"plankabot/internal/transport/telegram/router"
	"plankabot/internal/watch"
	logx "plankabot/pkg/logx"
)

// EventConfigReloaded is published after a new config has been applied.
const EventConfigReloaded = "config.reloaded"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor
	reg  *rtsup.Registry
	sd   sdNotifier

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	rec   *eventbus.Recorder
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	cmds    *commands.Handler

	planka  *planka.Source
	notif   *notifier.Service
	watcher *watch.Watcher
	ops     *ops.Service

	startedAt   time.Time
	stopTimeout time.Duration
	updates     chan kit.Update
}

// CheckConfig loads and fully maps the config at path without starting
// anything. It returns the parsed config for display.
func CheckConfig(path string) (*config.Config, error) {
	cfg, err := config.NewManager(path).Load()
	if err != nil {
		return nil, err
	}
	if _, err := mapSettings(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	st, err := mapSettings(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(st.Logging)
	// Close the log service on any error below so its file handle and
	// telegram worker do not outlive a failed start.
	ok := false
	defer func() {
		if !ok {
			_ = logSvc.Close()
		}
	}()

	ad, err := telegram.New(st.Telegram, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logSvc.AttachSender(ad)

	bus := eventbus.New()

	store, err := storage.Open(st.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	pc, err := planka.New(st.Planka, log.With(logx.String("comp", "planka")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	src := planka.NewSource(pc)

	notif := notifier.New(st.Notifier, ad, log.With(logx.String("comp", "notifier")), bus)

	w, err := watch.New(st.Watch, watch.Deps{
		Source: src,
		Store:  store,
		Sender: notif,
		Bus:    bus,
		Log:    log.With(logx.String("comp", "watch")),
	})
	if err != nil {
		notif.Close()
		_ = store.Close()
		return nil, err
	}

	rt := router.New(log, ad, router.Options{Workers: st.Workers})
	cmds := commands.New(commands.Deps{
		Store:    store,
		Identity: src,
		Sessions: src,
		Stats:    w,
		Refresh:  w.Visibility(),
		Log:      log.With(logx.String("comp", "commands")),
	})

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		reg:     rtsup.NewRegistry(),
		sd:      sdNotifier{log: log.With(logx.String("comp", "systemd"))},
		log:     log,
		logs:    logSvc,
		bus:     bus,
		rec:     eventbus.NewRecorder(256),
		store:   store,
		adapter: ad,
		router:  rt,
		cmds:    cmds,
		planka:  src,
		notif:   notif,
		watcher: w,

		stopTimeout: 10 * time.Second,
		updates:     make(chan kit.Update, 256),
	}
	a.ops = ops.New(st.Ops, ops.Deps{Stats: a.stats, Health: a.health}, log.With(logx.String("comp", "ops")))
	ok = true
	return a, nil
}

// SetStopTimeout bounds the graceful shutdown done by Run.
func (a *App) SetStopTimeout(d time.Duration) {
	if d > 0 {
		a.stopTimeout = d
	}
}

// Run starts the app and blocks until ctx is done or a component fails,
// then stops it. A StopReason passed as the cancel cause of ctx is logged as
// the reason.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.stop(ctx, StopFatalError)
		return err
	}
	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	reason := StopAppStop
	var cause StopReason
	switch {
	case ctx.Err() != nil && errors.As(context.Cause(ctx), &cause):
		reason = cause
	case ctx.Err() == nil && a.Err() != nil:
		reason = StopFatalError
	}
	a.stop(ctx, reason)
	return a.Err()
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.stopTimeout)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
}

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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.startedAt = time.Now()

	a.reg.Register("app", func() *rtsup.Supervisor { return a.sup })
	a.reg.Register("watch", a.watcher.Supervisor)
	a.reg.Register("telegram.router", a.router.Supervisor)
	a.reg.Register("telegram.adapter", a.adapter.Supervisor)
	a.reg.Register("ops", a.ops.Supervisor)

	// transactional config reload: a file that does not map cleanly is
	// rejected before commit and the running config stays in place
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapSettings(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.router.SetCommands(a.cmds.Commands(), a.sup)
	a.router.SetFallback(a.cmds.HandleText)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	a.sup.Go("watch", a.watcher.Run)

	a.sup.Go0("eventbus.record", func(c context.Context) {
		a.rec.Run(c, a.bus, a.logEvent)
	})

	a.ops.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready()
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c, a.sup.Err)
	})

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// logEvent keeps frequent events at debug; drops and failed sends are
// worth a warning.
func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case watch.EventDiffDropped, notifier.EventFailed:
		a.log.Warn("event", logx.String("type", e.Type), logx.Any("data", e.Data))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-c.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = cfg
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

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changed in sections that need a restart to take effect",
			logx.Strs("sections", restart))
	}

	st, err := mapSettings(newCfg)
	if err != nil {
		// The validator already ran; this only happens if the mapping and
		// the validator disagree.
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	// apply logging first so the lines below use the new level
	a.logs.Apply(st.Logging)
	a.notif.Apply(st.Notifier)
	a.watcher.SetSpamWindow(st.Watch.SpamWindow)
	a.watcher.SetDisabledLists(st.Watch.DisabledLists)
	a.ops.Reconfigure(c, st.Ops)

	a.bus.Publish(eventbus.Event{Type: EventConfigReloaded, Data: sections})
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })

	// Wait for supervised goroutines: the watcher drains its dispatch stage
	// here, so the notifier and storage must still be open.
	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("notifier", time.Second, func(context.Context) error { a.notif.Close(); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	if err := a.sup.Err(); err != nil {
		a.log.Error("stopped with error", logx.Err(err))
	} else {
		a.log.Info("stopped")
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
