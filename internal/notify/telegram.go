package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"nudged/internal/eventbus"
	"nudged/internal/remind"
	"nudged/internal/stats"
	logx "nudged/pkg/logx"
)

// Completer is the slice of the persistence layer the Telegram sink needs to
// acknowledge reminders. Satisfied by store.Store.
type Completer interface {
	DayState(ctx context.Context) (remind.DayState, error)
	MarkRuleComplete(ctx context.Context, ruleID string, at time.Time) error
}

// CompletionEvent is the bus payload for rule.completed.
type CompletionEvent struct {
	RuleID string
	At     time.Time
	Source string
}

type TelegramConfig struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration
}

// TelegramSink sends reminders to a Telegram chat and closes the loop: the
// /done command acknowledges a rule for the tracked day, which silences its
// remaining fires until the midnight reset.
type TelegramSink struct {
	cfg TelegramConfig
	log logx.Logger
	bus eventbus.Bus

	bot   *tele.Bot
	store Completer
	rules func() []remind.Rule
	style remind.ClockStyle

	runMu   sync.Mutex
	running bool

	statsMu sync.Mutex
	statsFn func(ctx context.Context) ([]stats.RuleStats, error)
}

func NewTelegramSink(cfg TelegramConfig, store Completer, rules func() []remind.Rule, style remind.ClockStyle, log logx.Logger, bus eventbus.Bus) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &TelegramSink{cfg: cfg, log: log, bus: bus, bot: b, store: store, rules: rules, style: style}
	s.registerHandlers()
	return s, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, n Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	var b strings.Builder
	if n.Title != "" {
		b.WriteString(n.Title)
		b.WriteString("\n")
	}
	b.WriteString(n.Body)
	b.WriteString("\n\nReply /done ")
	b.WriteString(n.RuleID)
	b.WriteString(" when finished.")
	if n.ClickURL != "" {
		b.WriteString("\n")
		b.WriteString(n.ClickURL)
	}

	_, err := s.bot.Send(&tele.Chat{ID: s.cfg.ChatID}, b.String(), &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return err
}

// Start begins long-polling for commands. The poll loop stops when ctx ends.
func (s *TelegramSink) Start(ctx context.Context) {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return
	}
	s.running = true
	s.runMu.Unlock()

	go func() {
		<-ctx.Done()
		s.bot.Stop()
	}()
	go func() {
		s.log.Info("telegram polling started")
		s.bot.Start()
		s.log.Info("telegram polling stopped")
	}()
}

func (s *TelegramSink) Stop(ctx context.Context) {
	s.runMu.Lock()
	wasRunning := s.running
	s.running = false
	s.runMu.Unlock()
	if !wasRunning {
		return
	}
	// telebot Stop is expected to be fast; run it async just in case.
	done := make(chan struct{})
	go func() {
		s.bot.Stop()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}

func (s *TelegramSink) registerHandlers() {
	s.bot.Handle("/done", func(c tele.Context) error {
		return s.handleDone(c)
	})
	s.bot.Handle("/status", func(c tele.Context) error {
		return s.handleStatus(c)
	})
	s.bot.Handle("/stats", func(c tele.Context) error {
		return s.handleStats(c)
	})
}

// SetStatsSource installs the /stats data provider. Optional; without it the
// command reports that statistics are unavailable.
func (s *TelegramSink) SetStatsSource(fn func(ctx context.Context) ([]stats.RuleStats, error)) {
	s.statsMu.Lock()
	s.statsFn = fn
	s.statsMu.Unlock()
}

func (s *TelegramSink) handleStats(c tele.Context) error {
	if !s.authorized(c) {
		return nil
	}
	s.statsMu.Lock()
	fn := s.statsFn
	s.statsMu.Unlock()
	if fn == nil {
		return c.Send("Statistics are not available.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	all, err := fn(ctx)
	if err != nil {
		s.log.Warn("stats computation failed", logx.Err(err))
		return c.Send("Something went wrong computing statistics.")
	}
	if len(all) == 0 {
		return c.Send("No reminder rules configured.")
	}

	var b strings.Builder
	for _, st := range all {
		fmt.Fprintf(&b, "%s: streak %d (best %d), 7d %.0f%%, 30d %.0f%%, total %d\n",
			st.RuleID, st.CurrentStreak, st.LongestStreak,
			st.Rate7d*100, st.Rate30d*100, st.TotalCompletions)
	}
	return c.Send(strings.TrimRight(b.String(), "\n"))
}

// handleDone acknowledges a rule for today. With a single pending rule the
// argument may be omitted.
func (s *TelegramSink) handleDone(c tele.Context) error {
	if !s.authorized(c) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	rules := s.rules()
	st, err := s.store.DayState(ctx)
	if err != nil {
		s.log.Warn("day state read failed", logx.Err(err))
		return c.Send("Something went wrong reading today's state.")
	}
	if remind.StaleState(st, now) {
		st = remind.DayState{Date: remind.DateKey(now)}
	}

	r, reply := resolveRule(strings.Join(c.Args(), " "), rules, st)
	if reply != "" {
		return c.Send(reply)
	}

	if err := s.store.MarkRuleComplete(ctx, r.ID, now); err != nil {
		s.log.Warn("mark complete failed", logx.String("rule", r.ID), logx.Err(err))
		return c.Send("Could not save the acknowledgement, try again.")
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeRuleCompleted,
			Time: now,
			Data: CompletionEvent{RuleID: r.ID, At: now, Source: "telegram"},
		})
	}
	s.log.Info("rule acknowledged", logx.String("rule", r.ID), logx.String("source", "telegram"))
	return c.Send(fmt.Sprintf("Done: %s. No more reminders for it today.", ruleLabel(r)))
}

func (s *TelegramSink) handleStatus(c tele.Context) error {
	if !s.authorized(c) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	rules := s.rules()
	st, err := s.store.DayState(ctx)
	if err != nil {
		s.log.Warn("day state read failed", logx.Err(err))
		return c.Send("Something went wrong reading today's state.")
	}
	if remind.StaleState(st, now) {
		st = remind.DayState{Date: remind.DateKey(now)}
	}

	if len(rules) == 0 {
		return c.Send("No reminder rules configured.")
	}

	var b strings.Builder
	b.WriteString("Today (" + remind.DateKey(now) + "):\n")
	for _, r := range rules {
		b.WriteString("- " + ruleLabel(r) + ": ")
		switch {
		case !r.Enabled:
			b.WriteString("disabled")
		case st.Completed(r.ID):
			b.WriteString("done")
		default:
			if next, ok := remind.NextFireTime(now, r, st); ok {
				b.WriteString("next at " + remind.FormatTimeOfDay(remind.MinutesSinceMidnight(next), s.style))
				if !next.Truncate(24 * time.Hour).Equal(now.Truncate(24 * time.Hour)) {
					b.WriteString(" (" + remind.DateKey(next) + ")")
				}
				if cd := remind.UntilDeadline(now, r); !cd.Past {
					fmt.Fprintf(&b, ", deadline in %dh%02dm", cd.Hours, cd.Minutes)
				}
				if n := len(remind.TodayFireTimes(now, r)); n > 0 {
					fmt.Fprintf(&b, ", %d fires scheduled today", n)
				}
			} else {
				b.WriteString("no more fires today")
			}
		}
		b.WriteString("\n")
	}
	return c.Send(strings.TrimRight(b.String(), "\n"))
}

// authorized drops commands from chats other than the configured one.
func (s *TelegramSink) authorized(c tele.Context) bool {
	ch := c.Chat()
	return ch != nil && ch.ID == s.cfg.ChatID
}

// resolveRule matches the /done argument against rule IDs, then names
// (case-insensitive). An empty argument works when exactly one enabled rule
// is still pending. A non-empty reply means no match; the reply is sent back
// to the chat verbatim.
func resolveRule(arg string, rules []remind.Rule, st remind.DayState) (remind.Rule, string) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		var pending []remind.Rule
		for _, r := range rules {
			if r.Enabled && !st.Completed(r.ID) {
				pending = append(pending, r)
			}
		}
		switch len(pending) {
		case 0:
			return remind.Rule{}, "Nothing is pending today."
		case 1:
			return pending[0], ""
		default:
			ids := make([]string, 0, len(pending))
			for _, r := range pending {
				ids = append(ids, r.ID)
			}
			return remind.Rule{}, "Several rules are pending, pick one: /done " + strings.Join(ids, " | /done ")
		}
	}
	for _, r := range rules {
		if r.ID == arg {
			return r, ""
		}
	}
	for _, r := range rules {
		if strings.EqualFold(r.Name, arg) {
			return r, ""
		}
	}
	return remind.Rule{}, fmt.Sprintf("Unknown rule %q. Check /status for the list.", arg)
}

func ruleLabel(r remind.Rule) string {
	if r.Name != "" && r.Name != r.ID {
		return fmt.Sprintf("%s (%s)", r.Name, r.ID)
	}
	return r.ID
}
