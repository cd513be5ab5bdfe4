package dispatch

import (
	"context"
	"time"

	"nudged/internal/notify"
	"nudged/internal/remind"
)

const (
	defaultDebounce      = 30 * time.Second
	defaultFireTolerance = time.Minute
	maxFireTolerance     = time.Minute
)

type Config struct {
	// Debounce suppresses a rule firing twice within the window, e.g. when
	// a config reload re-arms onto the same instant. Default 30s.
	Debounce time.Duration

	// FireTolerance accepts a wake-up this much past the target as that
	// target's firing (process stalls, timer drift). Hard-capped at one
	// minute so a long suspend never replays stale reminders.
	FireTolerance time.Duration

	ClockStyle remind.ClockStyle
}

func (c Config) debounce() time.Duration {
	if c.Debounce <= 0 {
		return defaultDebounce
	}
	return c.Debounce
}

func (c Config) fireTolerance() time.Duration {
	t := c.FireTolerance
	if t <= 0 {
		t = defaultFireTolerance
	}
	if t > maxFireTolerance {
		t = maxFireTolerance
	}
	return t
}

// Notifier is the slice of the delivery pipeline the scheduler needs.
// Satisfied by *notify.Service.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// StateStore is the slice of the persistence layer the scheduler needs.
// Satisfied by store.Store.
type StateStore interface {
	DayState(ctx context.Context) (remind.DayState, error)
	ResetForNewDay(ctx context.Context, date string) error
}

// FireEvent is the bus payload for reminder.fired and reminder.skipped.
type FireEvent struct {
	RuleID string
	At     time.Time
	Reason string // reminder.skipped only
}

// ResetEvent is the bus payload for day.reset.
type ResetEvent struct {
	Date string
}
