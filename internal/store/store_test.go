package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "nudged/pkg/logx"
)

func testBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "nudged_store")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	sqliteStore, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "nudged.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}

	return map[string]Store{
		"memory": NewMemory(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 10, 17, 9, 30, 0, 0, time.Local)

	for name, s := range testBackends(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			st, err := s.DayState(ctx)
			if err != nil {
				t.Fatalf("DayState: %v", err)
			}
			if st.Date != "" || len(st.CompletedRuleIDs) != 0 {
				t.Fatalf("fresh store not empty: %+v", st)
			}

			if err := s.ResetForNewDay(ctx, "2025-10-17"); err != nil {
				t.Fatalf("ResetForNewDay: %v", err)
			}
			if err := s.MarkRuleComplete(ctx, "plan", at); err != nil {
				t.Fatalf("MarkRuleComplete: %v", err)
			}
			// Second acknowledgement of the same rule is a no-op.
			if err := s.MarkRuleComplete(ctx, "plan", at.Add(time.Minute)); err != nil {
				t.Fatalf("MarkRuleComplete again: %v", err)
			}

			st, err = s.DayState(ctx)
			if err != nil {
				t.Fatalf("DayState: %v", err)
			}
			if st.Date != "2025-10-17" || len(st.CompletedRuleIDs) != 1 || st.CompletedRuleIDs[0] != "plan" {
				t.Fatalf("unexpected state: %+v", st)
			}

			// Rolling the day clears the completed set but keeps history.
			if err := s.ResetForNewDay(ctx, "2025-10-18"); err != nil {
				t.Fatalf("ResetForNewDay: %v", err)
			}
			st, _ = s.DayState(ctx)
			if st.Date != "2025-10-18" || len(st.CompletedRuleIDs) != 0 {
				t.Fatalf("state not reset: %+v", st)
			}

			recs, err := s.History(ctx)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if len(recs) != 1 || recs[0].Date != "2025-10-17" || recs[0].RuleID != "plan" {
				t.Fatalf("unexpected history: %+v", recs)
			}
		})
	}
}

func TestStoreHistoryPruning(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "st"), HistoryDays: 7}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.ResetForNewDay(ctx, "2025-10-01"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkRuleComplete(ctx, "old", time.Date(2025, 10, 1, 9, 0, 0, 0, time.Local)); err != nil {
		t.Fatal(err)
	}
	if err := s.ResetForNewDay(ctx, "2025-10-20"); err != nil {
		t.Fatal(err)
	}

	recs, err := s.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected pruned history, got %+v", recs)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "st")}

	s, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.ResetForNewDay(ctx, "2025-10-17"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkRuleComplete(ctx, "plan", time.Date(2025, 10, 17, 9, 30, 0, 0, time.Local)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	st, err := s.DayState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Date != "2025-10-17" || !st.Completed("plan") {
		t.Fatalf("state lost across reopen: %+v", st)
	}
	recs, _ := s.History(ctx)
	if len(recs) != 1 {
		t.Fatalf("history lost across reopen: %+v", recs)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
