package store

import (
	"context"
	"errors"
	"time"

	"nudged/internal/remind"
)

var ErrDisabled = errors.New("store disabled")

// Config configures persistence of the per-day completion state.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl history)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and completion state
// lives in memory only (lost on restart).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	HistoryDays int           // completion history retention, default 90
}

// HistoryRecord is one acknowledged rule on one calendar day. Kept compact
// and schema-stable; the stats package derives streaks and rates from it.
type HistoryRecord struct {
	Date        string    `json:"date"` // "YYYY-MM-DD"
	RuleID      string    `json:"rule_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store persists the tracked day's completion state and the completion
// history. Rules themselves come from config, not from here.
type Store interface {
	// DayState returns the last tracked day state. A zero-date state means
	// nothing has been tracked yet; the scheduler treats it as stale.
	DayState(ctx context.Context) (remind.DayState, error)

	// MarkRuleComplete records a user acknowledgement for the tracked day
	// and appends a history record. Idempotent per (day, rule).
	MarkRuleComplete(ctx context.Context, ruleID string, at time.Time) error

	// ResetForNewDay clears the completed set and starts tracking date.
	// Expired history beyond the retention window is pruned here.
	ResetForNewDay(ctx context.Context, date string) error

	// History returns records from the newest days, oldest first.
	History(ctx context.Context) ([]HistoryRecord, error)

	Close() error
}

const defaultHistoryDays = 90

func (c Config) historyDays() int {
	if c.HistoryDays > 0 {
		return c.HistoryDays
	}
	return defaultHistoryDays
}

// cutoffDate returns the oldest retained history date for a reset on date.
func cutoffDate(date string, keepDays int) string {
	d, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		return ""
	}
	return d.AddDate(0, 0, -keepDays).Format("2006-01-02")
}
