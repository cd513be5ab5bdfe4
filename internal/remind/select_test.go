package remind

import (
	"testing"
	"time"
)

func selectorRules() []Rule {
	everyday := [7]bool{true, true, true, true, true, true, true}
	return []Rule{
		{ID: "a", Name: "morning", Enabled: true, ActiveDays: everyday, StartTime: "09:00", Deadline: "10:00", Interval: 15},
		{ID: "b", Name: "afternoon", Enabled: true, ActiveDays: everyday, StartTime: "15:00", Deadline: "16:00", Interval: 30},
	}
}

func TestNextAcrossPicksEarliest(t *testing.T) {
	t.Parallel()
	rules := selectorRules()
	st := DayState{Date: "2025-10-17"}

	next, ok := NextAcross(at(friday, 8, 0), rules, st)
	if !ok || next.Rule.ID != "a" || !next.At.Equal(at(friday, 9, 0)) {
		t.Fatalf("at 08:00: got %q @ %v (ok=%v), want a @ 09:00", next.Rule.ID, next.At, ok)
	}

	next, ok = NextAcross(at(friday, 12, 0), rules, st)
	if !ok || next.Rule.ID != "b" || !next.At.Equal(at(friday, 15, 0)) {
		t.Fatalf("at 12:00: got %q @ %v (ok=%v), want b @ 15:00", next.Rule.ID, next.At, ok)
	}
}

func TestNextAcrossSkipsDisabledAndCompleted(t *testing.T) {
	t.Parallel()
	rules := selectorRules()
	rules[0].Enabled = false
	st := DayState{Date: "2025-10-17"}

	next, ok := NextAcross(at(friday, 8, 0), rules, st)
	if !ok || next.Rule.ID != "b" {
		t.Fatalf("disabled rule selected: %q (ok=%v)", next.Rule.ID, ok)
	}

	rules[0].Enabled = true
	st.CompletedRuleIDs = []string{"a"}
	next, ok = NextAcross(at(friday, 8, 0), rules, st)
	if !ok || next.Rule.ID != "b" {
		t.Fatalf("completed rule selected: %q (ok=%v)", next.Rule.ID, ok)
	}

	st.CompletedRuleIDs = []string{"a", "b"}
	if _, ok := NextAcross(at(friday, 8, 0), rules, st); ok {
		t.Fatal("all rules completed, expected none")
	}
}

func TestDueAtReturnsAllTiedRules(t *testing.T) {
	t.Parallel()
	everyday := [7]bool{true, true, true, true, true, true, true}
	rules := []Rule{
		{ID: "a", Enabled: true, ActiveDays: everyday, StartTime: "09:00", Deadline: "10:00", Interval: 15},
		{ID: "b", Enabled: true, ActiveDays: everyday, StartTime: "09:00", Deadline: "11:00", Interval: 20},
		{ID: "c", Enabled: true, ActiveDays: everyday, StartTime: "14:00", Deadline: "15:00", Interval: 10},
	}
	st := DayState{Date: "2025-10-17"}
	now := at(friday, 8, 0)

	next, ok := NextAcross(now, rules, st)
	if !ok || !next.At.Equal(at(friday, 9, 0)) {
		t.Fatalf("earliest = %v (ok=%v)", next.At, ok)
	}

	due := DueAt(now, rules, st, next.At)
	if len(due) != 2 || due[0].ID != "a" || due[1].ID != "b" {
		t.Fatalf("DueAt = %v, want [a b] in input order", ids(due))
	}
}

func TestDueWithinToleratesLateWakeups(t *testing.T) {
	t.Parallel()
	rules := selectorRules()
	st := DayState{Date: "2025-10-17"}

	// The timer was armed for 09:00 but the host woke us at 09:00:40.
	now := at(friday, 9, 0).Add(40 * time.Second)
	due := DueWithin(now, rules, st, time.Minute)
	if len(due) != 1 || due[0].ID != "a" {
		t.Fatalf("DueWithin = %v, want [a]", ids(due))
	}

	// Nothing due within tolerance mid-morning.
	if due := DueWithin(at(friday, 11, 0), rules, st, time.Minute); len(due) != 0 {
		t.Fatalf("DueWithin(11:00) = %v, want none", ids(due))
	}
}

func ids(rules []Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}
