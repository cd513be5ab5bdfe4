package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"nudged/internal/eventbus"
	"nudged/internal/notify"
	"nudged/internal/remind"
	logx "nudged/pkg/logx"
)

// Scheduler owns the single armed timer. It computes the earliest upcoming
// reminder across all rules, sleeps until then, delivers what is due, and
// re-arms. Every state change (acknowledgement, config reload, midnight
// reset) cancels the pending timer and recomputes from scratch; there is
// never more than one timer in flight.
//
// It is safe for concurrent use.
type Scheduler struct {
	log      logx.Logger
	bus      eventbus.Bus
	notifier Notifier
	store    StateStore
	clock    Clock

	mu      sync.Mutex
	cfg     Config
	rules   []remind.Rule
	running bool

	timer  Timer
	target time.Time

	runCtx    context.Context
	runCancel context.CancelFunc

	cron  *cron.Cron
	unsub func()

	// lastFired backs the debounce guard; cleared on day reset.
	lastFired map[string]time.Time
}

func New(cfg Config, rules []remind.Rule, notifier Notifier, store StateStore, clock Clock, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		log:       log,
		bus:       bus,
		notifier:  notifier,
		store:     store,
		clock:     clock,
		cfg:       cfg,
		rules:     append([]remind.Rule(nil), rules...),
		lastFired: map[string]time.Time{},
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	// A restart mid-day must not replay completed rules: reset only when the
	// stored date is not today.
	now := s.clock.Now()
	if st := s.loadState(runCtx); remind.StaleState(st, now) {
		s.resetDay(runCtx, now)
	}

	// Cron carries the midnight rollover plus an hourly safety net: if a
	// reset or re-arm failed (store hiccup, timer races), the next tick
	// repairs it.
	c := cron.New()
	_, _ = c.AddFunc("@midnight", func() { s.onMidnight() })
	_, _ = c.AddFunc("@hourly", func() { s.onHourly() })
	c.Start()

	var unsub func()
	if s.bus != nil {
		ch, u := s.bus.Subscribe(16)
		unsub = u
		go func() {
			for ev := range ch {
				switch ev.Type {
				case eventbus.TypeRuleCompleted, eventbus.TypeRulesChanged:
					s.Rearm()
				}
			}
		}()
	}

	s.mu.Lock()
	s.cron = c
	s.unsub = unsub
	s.mu.Unlock()

	s.Rearm()
	s.log.Info("scheduler started", logx.Int("rules", len(s.Rules())))
}

func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.runCancel
	c := s.cron
	unsub := s.unsub
	t := s.timer
	s.timer = nil
	s.target = time.Time{}
	s.cron = nil
	s.unsub = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped")
}

// Apply swaps config and rules, then recomputes the pending timer.
func (s *Scheduler) Apply(cfg Config, rules []remind.Rule) {
	s.mu.Lock()
	s.cfg = cfg
	s.rules = append([]remind.Rule(nil), rules...)
	running := s.running
	s.mu.Unlock()
	if running {
		s.Rearm()
	}
}

// Rules returns the current rule snapshot in input order.
func (s *Scheduler) Rules() []remind.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remind.Rule(nil), s.rules...)
}

// NextTarget reports the armed wake-up instant, if any.
func (s *Scheduler) NextTarget() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, !s.target.IsZero()
}

// Rearm cancels the pending timer and arms for the earliest upcoming
// reminder. With nothing upcoming the scheduler idles; the next state
// change or cron tick recomputes.
func (s *Scheduler) Rearm() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.target = time.Time{}
	ctx := s.runCtx
	cfg := s.cfg
	rules := s.rules
	s.mu.Unlock()

	now := s.clock.Now()
	st := s.loadState(ctx)
	if remind.StaleState(st, now) {
		// Pure computation treats a stale state as all-pending today; the
		// store reset happens on the fire path or the midnight cron.
		st = remind.DayState{Date: remind.DateKey(now)}
	}

	next, ok := remind.NextAcross(now, rules, st)
	if !ok {
		s.log.Debug("nothing upcoming, idling")
		return
	}

	d := next.At.Sub(now)
	if d <= 0 {
		// An on-boundary instant keeps evaluating to "now" for the rest of
		// its minute. If it was already delivered (or debounced), look past
		// the boundary instead of spinning on a zero-delay timer.
		s.mu.Lock()
		last, seen := s.lastFired[next.Rule.ID]
		s.mu.Unlock()
		if seen && (!last.Before(next.At) || now.Sub(last) < cfg.debounce()) {
			boundary := remind.TruncateMinute(now).Add(time.Minute)
			next, ok = remind.NextAcross(boundary, rules, st)
			if !ok {
				s.log.Debug("nothing upcoming, idling")
				return
			}
			d = next.At.Sub(now)
		}
	}
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		// Lost a race with a concurrent Rearm; that one wins.
		s.mu.Unlock()
		return
	}
	s.target = next.At
	s.timer = s.clock.AfterFunc(d, s.onTimer)
	s.mu.Unlock()

	s.log.Debug("armed",
		logx.String("rule", next.Rule.ID),
		logx.Time("at", next.At),
		logx.Duration("in", d))
}

// onTimer is the wake-up path. Dispatch is computed against the real current
// time, not the armed target: a late wake-up within tolerance still delivers,
// a later one falls through to the freshly computed (late/collapsed) instant.
func (s *Scheduler) onTimer() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.runCtx
	cfg := s.cfg
	rules := s.rules
	s.timer = nil
	s.target = time.Time{}
	s.mu.Unlock()

	now := s.clock.Now()
	st := s.freshState(ctx, now)

	for _, r := range remind.DueWithin(now, rules, st, cfg.fireTolerance()) {
		s.mu.Lock()
		last, seen := s.lastFired[r.ID]
		if seen && now.Sub(last) < cfg.debounce() {
			s.mu.Unlock()
			s.log.Debug("debounced", logx.String("rule", r.ID), logx.Time("last", last))
			s.publish(eventbus.TypeReminderSkipped, FireEvent{RuleID: r.ID, At: now, Reason: "debounce"})
			continue
		}
		s.lastFired[r.ID] = now
		s.mu.Unlock()

		n := notify.Render(r, now, cfg.ClockStyle)
		if err := s.notifier.Notify(ctx, n); err != nil {
			// Delivery failure must not block the other due rules or the
			// re-arm; the pipeline already retried.
			s.log.Warn("reminder delivery failed", logx.String("rule", r.ID), logx.Err(err))
		}
		s.publish(eventbus.TypeReminderFired, FireEvent{RuleID: r.ID, At: now})
		s.log.Info("reminder fired", logx.String("rule", r.ID), logx.Time("at", now))
	}

	s.Rearm()
}

func (s *Scheduler) onMidnight() {
	ctx := s.currentCtx()
	now := s.clock.Now()
	s.resetDay(ctx, now)
	s.Rearm()
}

// onHourly repairs missed resets and lost timers. Normally a no-op.
func (s *Scheduler) onHourly() {
	ctx := s.currentCtx()
	now := s.clock.Now()
	if st := s.loadState(ctx); remind.StaleState(st, now) {
		s.resetDay(ctx, now)
	}
	s.Rearm()
}

// resetDay starts tracking a new date. A store failure is logged and left
// for the next hourly tick; scheduling continues against an in-memory fresh
// state meanwhile.
func (s *Scheduler) resetDay(ctx context.Context, now time.Time) {
	date := remind.DateKey(now)
	if err := s.store.ResetForNewDay(ctx, date); err != nil {
		s.log.Warn("day reset failed, will retry", logx.String("date", date), logx.Err(err))
	}
	s.mu.Lock()
	s.lastFired = map[string]time.Time{}
	s.mu.Unlock()
	s.publish(eventbus.TypeDayReset, ResetEvent{Date: date})
	s.log.Info("new day", logx.String("date", date))
}

// freshState returns today's state, resetting the store when the tracked
// date lags behind (missed midnight cron, long suspend).
func (s *Scheduler) freshState(ctx context.Context, now time.Time) remind.DayState {
	st := s.loadState(ctx)
	if remind.StaleState(st, now) {
		s.resetDay(ctx, now)
		st = remind.DayState{Date: remind.DateKey(now)}
	}
	return st
}

func (s *Scheduler) loadState(ctx context.Context) remind.DayState {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := s.store.DayState(ctx)
	if err != nil {
		s.log.Warn("day state read failed", logx.Err(err))
		return remind.DayState{}
	}
	return st
}

func (s *Scheduler) currentCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}
