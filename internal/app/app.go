package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"unsealer/internal/config"
	"unsealer/internal/countdown"
	"unsealer/internal/eventbus"
	"unsealer/internal/httpapi"
	"unsealer/internal/journal"
	"unsealer/internal/relay"
	rtsup "unsealer/internal/runtime/supervisor"
	logx "unsealer/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	journal journal.Journal
	relay   *relay.Relay

	ctrl *countdown.Controller
	http *httpapi.Server

	stopOnce sync.Once
}

type options struct {
	lookup config.LookupFunc
	log    logx.Logger
	clock  countdown.Clock
}

type Option func(*options)

// WithEnv replaces the environment lookup used for the UNSEALER_* overlay.
func WithEnv(lookup config.LookupFunc) Option { return func(o *options) { o.lookup = lookup } }

// WithLogger uses log instead of building a logging service from the config.
// Logging config changes are then not applied on reload.
func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

func WithClock(c countdown.Clock) Option { return func(o *options) { o.clock = c } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	if o.lookup != nil {
		cfgm.SetEnv(o.lookup)
	}
	// A bad countdown section is not fatal: the controller serves the
	// config-error frame until a valid reload.
	cfg, err := cfgm.LoadStartup()
	if err != nil {
		return nil, err
	}

	var logSvc *logx.Service
	log := o.log
	if log.IsZero() {
		logSvc, log = logx.New(cfg.Logging.Logx())
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Journal (optional)
	var jr journal.Journal
	if jc, enabled, err := mapJournalConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		jr, err = journal.Open(jc, log)
		if err != nil {
			return nil, err
		}
		log.Info("journal enabled", logx.String("driver", jc.Driver))
	}

	var rl *relay.Relay
	if rc, enabled := mapRelayConfig(cfg); enabled {
		rl, err = relay.Open(rc, log)
		if err != nil {
			if jr != nil {
				_ = jr.Close()
			}
			return nil, err
		}
	}

	ctrl := countdown.New(newSettingsSource(cfgm), countdown.Options{
		Clock: o.clock,
		Log:   log,
		Bus:   bus,
	})

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		journal: jr,
		relay:   rl,
		ctrl:    ctrl,
	}

	if cfg.Server.Enabled {
		a.http = httpapi.New(cfg.Server.ListenAddr(), httpapi.Options{
			Countdown:    ctrl,
			Journal:      jr,
			Health:       a.health,
			AllowOrigins: cfg.Server.AllowOrigins,
			Pprof:        cfg.Server.Pprof,
			Log:          log,
		})
	}
	return a, nil
}

func (a *App) Controller() *countdown.Controller { return a.ctrl }

// Resume forces an immediate countdown tick (SIGCONT, viewer visible again).
func (a *App) Resume() { a.ctrl.Resume() }

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

func (a *App) health() httpapi.Health {
	return httpapi.Health{Supervisor: a.sup.Snapshot(), BusDropped: eventbus.Dropped(a.bus)}
}

func (a *App) healthy() bool {
	return a.ctrl.State() != countdown.StateStopped && a.sup.Err() == nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Subscribe before the controller starts so the first transitions are kept.
	if a.journal != nil {
		events, unsub := a.bus.Subscribe(64)
		jlog := a.log.With(logx.String("comp", "journal"))
		a.sup.Go0("journal.record", func(c context.Context) {
			defer unsub()
			record(c, events, a.journal, jlog)
		})
		a.appendJournal(ctx, journal.Entry{Kind: journal.KindStarted, Detail: a.scheduleDetail()})
	}

	if a.relay != nil {
		events, unsub := a.bus.Subscribe(64)
		a.sup.Go0("relay", func(c context.Context) {
			defer unsub()
			a.relay.Run(c, events)
		})
	}

	if a.log.Enabled(logx.LevelDebug) {
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
					a.log.Debug("event", logx.String("type", string(e.Type)), logx.Time("time", e.Time), logx.Any("data", e.Data))
				}
			}
		})
	}

	if err := a.ctrl.Start(a.sup.Context()); err != nil {
		if errors.Is(err, countdown.ErrStopped) || errors.Is(err, countdown.ErrAlreadyStarted) {
			a.sup.Cancel()
			return err
		}
		// Serve the config-error frame and wait for a valid reload.
		a.log.Error("countdown halted on invalid configuration", logx.Err(err))
	}
	a.sup.Go0("countdown", func(c context.Context) {
		<-c.Done()
		a.ctrl.Stop()
	})

	// hot reload config fan-out
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
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
	)

	if a.http != nil {
		a.sup.Go("http", a.http.Run)
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log.With(logx.String("comp", "systemd")), a.healthy)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.String("state", a.ctrl.State().String()),
		logx.Time("target", a.ctrl.Target()),
	)
	return nil
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Debug("config change summary", fields...)
	} else {
		a.log.Debug("config reload received, but no effective changes detected")
	}

	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(pending, ",")),
		)
	}

	if a.logs != nil {
		if err := a.logs.Apply(next.Logging.Logx()); err != nil {
			a.log.Warn("log file unavailable; console only", logx.Err(err))
		}
	}

	// Countdown settings are read by the controller on its next tick; this
	// only matters when it halted on an invalid configuration.
	if err := a.ctrl.Reinitialize(); err != nil && !errors.Is(err, countdown.ErrStopped) {
		a.log.Warn("countdown still invalid after reload", logx.Err(err))
	}

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

func (a *App) scheduleDetail() string {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return ""
	}
	s, err := cfg.Countdown.Schedule()
	if err != nil {
		return ""
	}
	return s.String()
}

func (a *App) appendJournal(ctx context.Context, e journal.Entry) {
	if a.journal == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := a.journal.Append(wctx, e); err != nil {
		a.log.Warn("journal append failed", logx.String("kind", string(e.Kind)), logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "countdown", time.Second, func(context.Context) error { a.ctrl.Stop(); return nil })

	// http shutdown, config watch/reload, journal recorder
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)

	a.step(ctx, "journal", time.Second, func(c context.Context) error {
		if a.journal == nil {
			return nil
		}
		a.appendJournal(c, journal.Entry{Kind: journal.KindStopped, Detail: string(reason)})
		return a.journal.Close()
	})

	a.step(ctx, "relay", time.Second, func(context.Context) error {
		if a.relay == nil {
			return nil
		}
		return a.relay.Close()
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. fn must honor its context.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: no time left", logx.String("name", name))
		return
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
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
