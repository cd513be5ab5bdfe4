// Package app wires the services together: config manager, logging, store,
// delivery pipeline, and the scheduler, with hot reload fan-out between them.
package app

import (
	"context"
	"fmt"
	"time"

	"nudged/internal/config"
	"nudged/internal/dispatch"
	"nudged/internal/eventbus"
	"nudged/internal/notify"
	"nudged/internal/remind"
	"nudged/internal/stats"
	"nudged/internal/store"
	logx "nudged/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	st   store.Store

	notif *notify.Service
	tg    *notify.TelegramSink
	sched *dispatch.Scheduler

	runCtx    context.Context
	runCancel context.CancelFunc
	watchDone chan struct{}
}

func New(cfgPath string) (*App, error) {
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
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		st:      st,
	}

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	sinks := []notify.Sink{notify.NewLogSink(log.With(logx.String("comp", "reminder")))}

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Notify.Telegram.Enabled {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		tg, err := notify.NewTelegramSink(tcfg, st, a.currentRules, dcfg.ClockStyle,
			log.With(logx.String("comp", "telegram")), bus)
		if err != nil {
			return nil, err
		}
		a.tg = tg
		sinks = append(sinks, tg)
	}

	a.notif = notify.New(ncfg, sinks, log.With(logx.String("comp", "notify")), bus)
	a.sched = dispatch.New(dcfg, cfg.Rules, a.notif, st, dispatch.SystemClock(),
		log.With(logx.String("comp", "dispatch")), bus)

	if a.tg != nil {
		a.tg.SetStatsSource(func(ctx context.Context) ([]stats.RuleStats, error) {
			recs, err := a.st.History(ctx)
			if err != nil {
				return nil, err
			}
			return stats.Compute(recs, a.currentRules(), time.Now()), nil
		})
	}

	return a, nil
}

// currentRules feeds the Telegram command handlers; it tracks hot reloads
// through the scheduler's snapshot.
func (a *App) currentRules() []remind.Rule {
	if a.sched == nil {
		return nil
	}
	return a.sched.Rules()
}

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		// Mapped configs must parse too, or the reload fan-out would
		// half-apply.
		if _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStoreConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	a.notif.Start(a.runCtx)
	if a.tg != nil {
		a.tg.Start(a.runCtx)
	}
	a.sched.Start(a.runCtx)

	sub := a.cfgm.Subscribe(8)
	go func() {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-a.runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				drained := false
				for !drained {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(newCfg)
			}
		}
	}()

	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		_ = a.cfgm.Watch(a.runCtx)
	}()

	events, unsub := a.bus.Subscribe(8)
	go func() {
		defer unsub()
		for {
			select {
			case <-a.runCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Type == eventbus.TypeDayReset {
					a.logDaySummary()
				}
			}
		}
	}()

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig fans a validated hot reload out to the running services.
// Store driver changes need a restart; everything else applies live.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if ncfg, err := mapNotifyConfig(cfg); err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
		dcfg = dispatch.Config{}
	}
	a.sched.Apply(dcfg, cfg.Rules)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeRulesChanged, Time: time.Now()})

	a.log.Info("config reloaded", logx.Int("rules", len(cfg.Rules)))
}

// logDaySummary writes per-rule statistics after the midnight reset, so the
// daily picture lands in the log even without a chat transport.
func (a *App) logDaySummary() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recs, err := a.st.History(ctx)
	if err != nil {
		a.log.Warn("history read failed for day summary", logx.Err(err))
		return
	}
	for _, rs := range stats.Compute(recs, a.currentRules(), time.Now()) {
		a.log.Info("rule summary",
			logx.String("rule", rs.RuleID),
			logx.Int("streak", rs.CurrentStreak),
			logx.Int("best_streak", rs.LongestStreak),
			logx.Int("total", rs.TotalCompletions))
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.runCancel != nil {
		a.runCancel()
	}

	// Bounded per-component stops so one stall can't hang shutdown.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Warn("panic in stop step", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) { a.sched.Stop(c) })
	step("notify", 3*time.Second, func(c context.Context) { a.notif.Stop(c) })
	if a.tg != nil {
		step("telegram", 2*time.Second, func(c context.Context) { a.tg.Stop(c) })
	}
	if a.watchDone != nil {
		select {
		case <-a.watchDone:
		case <-ctx.Done():
		}
	}
	if err := a.st.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Status renders a short human summary for diagnostics.
func (a *App) Status() string {
	next, ok := a.sched.NextTarget()
	if !ok {
		return "idle: nothing armed"
	}
	return fmt.Sprintf("armed for %s", next.Format(time.RFC3339))
}
