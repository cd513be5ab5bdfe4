package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"nudged/internal/remind"
	logx "nudged/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json    (day-state snapshot, rewritten atomically)
//   - <prefix>.history.jsonl (append-only completion records)
//
// The history file is compacted on day reset when pruning drops records.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath   string
	historyPath string
	historyFile *os.File

	state   remind.DayState
	history []HistoryRecord
	keep    int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:         log,
		statePath:   prefix + ".state.json",
		historyPath: prefix + ".history.jsonl",
		keep:        cfg.historyDays(),
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	if err := s.loadHistory(); err != nil {
		return nil, err
	}

	hf, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.historyFile = hf
	return s, nil
}

func (s *fileStore) loadState() error {
	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, &s.state); err != nil {
		// A corrupt snapshot degrades to "stale state": the scheduler will
		// reset for the new day. Do not fail startup over it.
		s.log.Warn("corrupt state snapshot, starting fresh", logx.String("path", s.statePath), logx.Err(err))
		s.state = remind.DayState{}
	}
	return nil
}

func (s *fileStore) loadHistory() error {
	f, err := os.Open(s.historyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec HistoryRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			s.log.Warn("skipping corrupt history line", logx.Err(err))
			continue
		}
		s.history = append(s.history, rec)
	}
	return sc.Err()
}

func (s *fileStore) DayState(ctx context.Context) (remind.DayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.CompletedRuleIDs = append([]string(nil), s.state.CompletedRuleIDs...)
	return st, nil
}

func (s *fileStore) MarkRuleComplete(ctx context.Context, ruleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Completed(ruleID) {
		return nil
	}
	s.state.CompletedRuleIDs = append(s.state.CompletedRuleIDs, ruleID)
	if err := s.writeStateLocked(); err != nil {
		return err
	}

	rec := HistoryRecord{Date: s.state.Date, RuleID: ruleID, CompletedAt: at}
	s.history = append(s.history, rec)
	return s.appendHistoryLocked(rec)
}

func (s *fileStore) ResetForNewDay(ctx context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = remind.DayState{Date: date}
	if err := s.writeStateLocked(); err != nil {
		return err
	}

	cut := cutoffDate(date, s.keep)
	if cut == "" {
		return nil
	}
	kept := make([]HistoryRecord, 0, len(s.history))
	for _, rec := range s.history {
		if rec.Date >= cut {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(s.history) {
		return nil
	}
	s.history = kept
	return s.compactHistoryLocked()
}

func (s *fileStore) History(ctx context.Context) ([]HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryRecord(nil), s.history...), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile != nil {
		err := s.historyFile.Close()
		s.historyFile = nil
		return err
	}
	return nil
}

// writeStateLocked rewrites the snapshot via a temp file + rename so a crash
// mid-write never leaves a truncated snapshot.
func (s *fileStore) writeStateLocked() error {
	b, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) appendHistoryLocked(rec HistoryRecord) error {
	if s.historyFile == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.historyFile.Write(append(b, '\n'))
	return err
}

func (s *fileStore) compactHistoryLocked() error {
	if s.historyFile != nil {
		_ = s.historyFile.Close()
		s.historyFile = nil
	}

	tmp := s.historyPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, rec := range s.history {
		b, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		_, _ = w.Write(append(b, '\n'))
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.historyPath); err != nil {
		return err
	}

	hf, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.historyFile = hf
	return nil
}
