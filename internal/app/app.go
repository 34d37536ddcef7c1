package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindd/internal/config"
	"remindd/internal/digest"
	"remindd/internal/dispatch"
	"remindd/internal/engine"
	"remindd/internal/eventbus"
	"remindd/internal/recipient"
	"remindd/internal/runtime/supervisor"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// App wires the reminder engine together: config, storage, recipient
// resolution, channel adapters, dispatcher, poller and digest job.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *store.Store
	res   *recipient.Resolver
	disp  *dispatch.Dispatcher
	eng   *engine.Engine
	dig   *digest.Service // nil when disabled

	// Storage binds at construction; applyConfig warns when the section
	// changes under a running process.
	bootStorage config.StorageConfig
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	loc, err := mapLocation(cfg)
	if err != nil {
		return nil, err
	}

	adapters, err := buildAdapters(cfg, log)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		// Records will still be materialized and claimed; every delivery
		// attempt will fail closed with a "no channel" outcome.
		log.Warn("no delivery channels configured")
	}

	res := recipient.New(st, log.With(logx.String("comp", "recipient")))

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dcfg, adapters, res, log.With(logx.String("comp", "dispatch")), bus)

	ecfg, err := mapEngineConfig(cfg, loc)
	if err != nil {
		return nil, err
	}
	eng := engine.New(ecfg, st, disp, res, log.With(logx.String("comp", "engine")), bus)

	var dig *digest.Service
	if cfg.Digest != nil && cfg.Digest.Enabled {
		dig = digest.New(digest.Config{
			Spec:     cfg.Digest.Spec,
			Location: loc,
		}, st, disp, log.With(logx.String("comp", "digest")))
	}

	return &App{
		cfgPath:     cfgPath,
		bootStorage: cfg.Storage,
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       st,
		res:         res,
		disp:        disp,
		eng:         eng,
		dig:         dig,
	}, nil
}

// Engine exposes the trigger operations (materialize/reconcile/test
// dispatch) to embedding hosts.
func (a *App) Engine() *engine.Engine { return a.eng }

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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapEngineConfig(cfg, time.Local); err != nil {
			return err
		}
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	// Startup connectivity self-check. A failing channel is reported but
	// not fatal: SMTP or Telegram being down must not keep reminders for
	// the other channels from flowing.
	hcCtx, cancel := context.WithTimeout(a.sup.Context(), 15*time.Second)
	for name, err := range a.disp.Healthcheck(hcCtx) {
		if err != nil {
			a.log.Warn("channel healthcheck failed", logx.String("channel", name), logx.Err(err))
		} else {
			a.log.Info("channel ready", logx.String("channel", name))
		}
	}
	cancel()

	a.eng.Start(a.sup.Context())
	if a.dig != nil {
		if err := a.dig.Start(); err != nil {
			return fmt.Errorf("start digest scheduler: %w", err)
		}
	}

	// Debug visibility into lifecycle events (components also subscribe themselves).
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifySystemd(a.sup, a.log)

	a.log.Info("app started")
	return nil
}

// applyConfig applies a hot-reloaded config to the live services.
// Storage and channel sections are bound at construction time and need
// a restart; everything else takes effect immediately.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	loc, err := mapLocation(cfg)
	if err != nil {
		a.log.Warn("invalid engine.timezone; keeping previous", logx.Err(err))
		loc = nil
	}

	if ecfg, err := mapEngineConfig(cfg, loc); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else if loc != nil {
		a.eng.Apply(ecfg)
	}

	if dcfg, err := mapDispatchConfig(cfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dcfg)
	}

	if cfg.Storage != a.bootStorage {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("digest", 2*time.Second, func(c context.Context) error {
		if a.dig != nil {
			a.dig.Stop()
		}
		return nil
	})
	step("engine", 5*time.Second, func(c context.Context) error { return a.eng.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// notifySystemd signals readiness and services the watchdog when the
// process runs under systemd with Type=notify. Outside systemd both
// calls are no-ops.
func notifySystemd(sup *supervisor.Supervisor, log logx.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if !sent {
		return
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}
