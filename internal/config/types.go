package config

import (
	"fmt"
	"strings"
	"time"

	"nudged/internal/remind"
)

// Config is the root of nudged's configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging,omitempty"`
	Store    StoreConfig    `json:"store,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Notify   NotifyConfig   `json:"notify,omitempty"`

	// Rules is the full reminder rule set. The file is the source of truth;
	// editing it while nudged runs re-arms the scheduler via the watcher.
	Rules []remind.Rule `json:"rules"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"` // TRACE..ERROR, default INFO
	Console *bool      `json:"console,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// ConsoleEnabled defaults to true when the field is omitted; a daemon with
// no log sinks at all is never what the operator meant.
func (c LoggingConfig) ConsoleEnabled() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}

// StoreConfig controls persistence of completion state.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./nudged.db" }
type StoreConfig struct {
	Driver      string `json:"driver,omitempty"` // "", "none", "file", "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	HistoryDays int    `json:"history_days,omitempty"` // default 90
}

// DispatchConfig tunes the scheduler.
//
// Defaults (when fields are omitted/zero):
//   - debounce: "30s" (suppress duplicate wake-ups after suspend/resume)
//   - fire_tolerance: "60s" (treat near-due rules as due on wake; capped at 1m)
type DispatchConfig struct {
	Debounce      string `json:"debounce,omitempty"`
	FireTolerance string `json:"fire_tolerance,omitempty"`
}

// NotifyConfig controls the async notification pipeline.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2, queue_size: 512, rate_per_sec: 3
//   - retry_max: 3, retry_base: "500ms", retry_max_delay: "10s"
//   - dedup_window: "0s" (disabled), dedup_max_entries: 2000
type NotifyConfig struct {
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`

	// ClockStyle selects "24h" or "12h" time rendering in outgoing messages.
	ClockStyle string `json:"clock_style,omitempty"`

	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// TelegramConfig configures the optional Telegram sink. When enabled, fired
// reminders are delivered to ChatID and the /done and /status commands are
// served from the same bot.
type TelegramConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Token       string `json:"token,omitempty"`
	ChatID      int64  `json:"chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// Validate rejects configurations the scheduling core must never see:
// malformed times, zero-width windows, non-positive intervals, duplicate or
// empty rule IDs. Config is the data owner for these invariants; the engine
// assumes validated rules.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	seen := make(map[string]struct{}, len(cfg.Rules))
	for i, r := range cfg.Rules {
		where := fmt.Sprintf("rules[%d]", i)
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("%s: id is required", where)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%s: duplicate rule id %q", where, r.ID)
		}
		seen[r.ID] = struct{}{}

		start, err := remind.ParseTimeOfDay(r.StartTime)
		if err != nil {
			return fmt.Errorf("%s.start_time: %w", where, err)
		}
		deadline, err := remind.ParseTimeOfDay(r.Deadline)
		if err != nil {
			return fmt.Errorf("%s.deadline: %w", where, err)
		}
		if deadline == start {
			return fmt.Errorf("%s: zero-width window (deadline equals start_time)", where)
		}
		if r.Interval < 1 {
			return fmt.Errorf("%s: interval must be >= 1 minute", where)
		}
		for j, lt := range r.LateTimes {
			if _, err := remind.ParseTimeOfDay(lt); err != nil {
				return fmt.Errorf("%s.late_times[%d]: %w", where, j, err)
			}
		}
	}

	if cfg.Notify.Telegram.Enabled && strings.TrimSpace(cfg.Notify.Telegram.Token) == "" {
		return fmt.Errorf("notify.telegram: token is required when enabled")
	}

	for _, d := range []struct{ path, raw string }{
		{"store.busy_timeout", cfg.Store.BusyTimeout},
		{"dispatch.debounce", cfg.Dispatch.Debounce},
		{"dispatch.fire_tolerance", cfg.Dispatch.FireTolerance},
		{"notify.retry_base", cfg.Notify.RetryBase},
		{"notify.retry_max_delay", cfg.Notify.RetryMaxDelay},
		{"notify.dedup_window", cfg.Notify.DedupWindow},
		{"notify.telegram.poll_timeout", cfg.Notify.Telegram.PollTimeout},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	tol, _ := ParseDurationField("dispatch.fire_tolerance", cfg.Dispatch.FireTolerance)
	if tol > time.Minute {
		return fmt.Errorf("dispatch.fire_tolerance: must be <= 1m")
	}
	return nil
}
