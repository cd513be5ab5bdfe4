package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify service stopped")
)

// Notification is one rendered reminder ready for delivery. The scheduling
// layer fills it from a rule's payload; sinks only format and send.
type Notification struct {
	RuleID   string
	Title    string
	Body     string
	ClickURL string

	// FireAt is the instant the reminder was due, minute precision.
	FireAt time.Time
}

// Sink delivers a notification over one channel (log line, Telegram message).
// Send must be safe for concurrent use; the pipeline calls it from multiple
// workers.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// DedupWindow suppresses identical notifications (same rule, same due
	// instant) delivered twice, e.g. after a re-arm race. Zero disables.
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// DeliveryEvent is the bus payload for notify.sent / notify.failed /
// notify.deduped events.
type DeliveryEvent struct {
	RuleID string
	Sink   string
	Key    string
	At     time.Time
	Error  string
}

// HistoryItem is a delivered notification kept in memory for status queries.
type HistoryItem struct {
	At     time.Time
	RuleID string
	Title  string
}
