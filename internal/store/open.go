package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"nudged/internal/remind"
	logx "nudged/pkg/logx"
)

// Open initializes the configured store.
// It returns an in-memory store if persistence is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}

// memStore keeps state in memory only. Completion state is lost on restart,
// which degrades to the stale-state path at startup.
type memStore struct {
	mu      sync.Mutex
	state   remind.DayState
	history []HistoryRecord
	keep    int
}

func NewMemory() Store {
	return &memStore{keep: defaultHistoryDays}
}

func (m *memStore) DayState(ctx context.Context) (remind.DayState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.CompletedRuleIDs = append([]string(nil), m.state.CompletedRuleIDs...)
	return st, nil
}

func (m *memStore) MarkRuleComplete(ctx context.Context, ruleID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Completed(ruleID) {
		return nil
	}
	m.state.CompletedRuleIDs = append(m.state.CompletedRuleIDs, ruleID)
	m.history = append(m.history, HistoryRecord{Date: m.state.Date, RuleID: ruleID, CompletedAt: at})
	return nil
}

func (m *memStore) ResetForNewDay(ctx context.Context, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = remind.DayState{Date: date}
	cut := cutoffDate(date, m.keep)
	if cut != "" {
		kept := m.history[:0]
		for _, rec := range m.history {
			if rec.Date >= cut {
				kept = append(kept, rec)
			}
		}
		m.history = kept
	}
	return nil
}

func (m *memStore) History(ctx context.Context) ([]HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryRecord(nil), m.history...), nil
}

func (m *memStore) Close() error { return nil }
