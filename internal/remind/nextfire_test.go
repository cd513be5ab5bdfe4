package remind

import (
	"testing"
	"time"
)

var (
	monday   = time.Date(2025, 10, 13, 0, 0, 0, 0, time.Local)
	friday   = time.Date(2025, 10, 17, 0, 0, 0, 0, time.Local)
	saturday = time.Date(2025, 10, 18, 0, 0, 0, 0, time.Local)
)

func at(day time.Time, hour, min int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, day.Location())
}

func weekdayRule() Rule {
	return Rule{
		ID:         "plan",
		Name:       "daily plan",
		Enabled:    true,
		ActiveDays: [7]bool{true, true, true, true, true, false, false},
		StartTime:  "09:00",
		Deadline:   "10:00",
		Interval:   15,
		LateTimes:  []string{"10:30", "11:00"},
	}
}

func TestIsActiveDay(t *testing.T) {
	t.Parallel()
	r := weekdayRule()
	if !IsActiveDay(monday, r) || !IsActiveDay(friday, r) {
		t.Fatal("weekdays must be active")
	}
	if IsActiveDay(saturday, r) || IsActiveDay(saturday.AddDate(0, 0, 1), r) {
		t.Fatal("weekend must be inactive")
	}
}

func TestNextFireTimeStandardWindow(t *testing.T) {
	t.Parallel()
	r := weekdayRule()
	st := DayState{Date: "2025-10-17"}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
		none bool
	}{
		{name: "before window opens", now: at(friday, 8, 0), want: at(friday, 9, 0)},
		{name: "mid-slot advances to next tick", now: at(friday, 9, 5), want: at(friday, 9, 15)},
		{name: "last slot is the deadline", now: at(friday, 9, 50), want: at(friday, 10, 0)},
		{name: "past deadline uses first late time", now: at(friday, 10, 10), want: at(friday, 10, 30)},
		{name: "between late times", now: at(friday, 10, 40), want: at(friday, 11, 0)},
		{name: "after last late time", now: at(friday, 11, 10), none: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextFireTime(tt.now, r, st)
			if tt.none {
				if ok {
					t.Fatalf("expected no fire, got %v", got)
				}
				return
			}
			if !ok || !got.Equal(tt.want) {
				t.Fatalf("NextFireTime = %v (ok=%v), want %v", got, ok, tt.want)
			}
		})
	}
}

func TestNextFireTimeOnBoundaryFiresNow(t *testing.T) {
	t.Parallel()
	r := weekdayRule()
	st := DayState{Date: "2025-10-17"}

	// Window open instants sitting exactly on an interval tick fire
	// immediately, including the deadline itself and late times.
	for _, now := range []time.Time{at(friday, 9, 0), at(friday, 9, 15), at(friday, 10, 0), at(friday, 10, 30)} {
		got, ok := NextFireTime(now, r, st)
		if !ok || !got.Equal(now) {
			t.Fatalf("NextFireTime(%v) = %v (ok=%v), want now", now, got, ok)
		}
	}

	// Sub-minute precision truncates to the minute, not up.
	now := at(friday, 9, 15).Add(30 * time.Second)
	got, ok := NextFireTime(now, r, st)
	if !ok || !got.Equal(at(friday, 9, 15)) {
		t.Fatalf("NextFireTime(+30s) = %v (ok=%v), want %v", got, ok, at(friday, 9, 15))
	}
}

func TestNextFireTimeRepolledAtBoundaryIsStable(t *testing.T) {
	t.Parallel()
	r := weekdayRule()
	st := DayState{Date: "2025-10-17"}
	now := at(friday, 9, 30)

	first, ok1 := NextFireTime(now, r, st)
	second, ok2 := NextFireTime(now, r, st)
	if !ok1 || !ok2 || !first.Equal(second) || !first.Equal(now) {
		t.Fatalf("re-polling at a due instant must keep returning it: %v / %v", first, second)
	}
}

func TestNextFireTimeCompletedRule(t *testing.T) {
	t.Parallel()
	r := weekdayRule()
	st := DayState{Date: "2025-10-17", CompletedRuleIDs: []string{"plan"}}

	for _, now := range []time.Time{at(friday, 8, 0), at(friday, 9, 15), at(friday, 10, 45)} {
		if got, ok := NextFireTime(now, r, st); ok {
			t.Fatalf("completed rule fired at %v -> %v", now, got)
		}
	}
}

func TestNextFireTimeStaleStateIsIgnored(t *testing.T) {
	t.Parallel()
	r := weekdayRule()
	// Completion recorded for another day does not suppress today.
	st := DayState{Date: "2025-10-16", CompletedRuleIDs: []string{"plan"}}

	got, ok := NextFireTime(at(friday, 8, 0), r, st)
	if !ok || !got.Equal(at(friday, 9, 0)) {
		t.Fatalf("NextFireTime = %v (ok=%v), want 09:00", got, ok)
	}
}

func TestNextFireTimeInactiveDay(t *testing.T) {
	t.Parallel()
	r := weekdayRule()
	if got, ok := NextFireTime(at(saturday, 9, 0), r, DayState{Date: "2025-10-18"}); ok {
		t.Fatalf("inactive day fired: %v", got)
	}
}

func TestNextFireTimeLateEveningWindow(t *testing.T) {
	t.Parallel()
	r := Rule{
		ID:         "sleep",
		Enabled:    true,
		ActiveDays: [7]bool{true, true, true, true, true, true, true},
		StartTime:  "23:00",
		Deadline:   "23:45",
		Interval:   15,
	}
	st := DayState{Date: "2025-10-17"}

	got, ok := NextFireTime(at(friday, 22, 0), r, st)
	if !ok || !got.Equal(at(friday, 23, 0)) {
		t.Fatalf("NextFireTime(22:00) = %v (ok=%v), want 23:00", got, ok)
	}
	if got, ok := NextFireTime(at(friday, 23, 50), r, st); ok {
		t.Fatalf("past deadline with no late times fired: %v", got)
	}
}

func TestNextFireTimeCrossMidnight(t *testing.T) {
	t.Parallel()
	r := Rule{
		ID:      "night",
		Enabled: true,
		// Friday only: the window belongs to the day it starts on.
		ActiveDays: [7]bool{false, false, false, false, true, false, false},
		StartTime:  "23:30",
		Deadline:   "00:30",
		Interval:   15,
		LateTimes:  []string{"01:00"},
	}

	tests := []struct {
		name string
		now  time.Time
		st   DayState
		want time.Time
		none bool
	}{
		{
			name: "inside window before midnight",
			now:  at(friday, 23, 35),
			st:   DayState{Date: "2025-10-17"},
			want: at(friday, 23, 45),
		},
		{
			name: "second half after midnight advances on the folded axis",
			now:  at(saturday, 0, 10),
			st:   DayState{Date: "2025-10-18"},
			want: at(saturday, 0, 15),
		},
		{
			name: "deadline instant after midnight fires now",
			now:  at(saturday, 0, 30),
			st:   DayState{Date: "2025-10-18"},
			want: at(saturday, 0, 30),
		},
		{
			name: "past deadline picks cross-midnight late time",
			now:  at(saturday, 0, 40),
			st:   DayState{Date: "2025-10-18"},
			want: at(saturday, 1, 0),
		},
		{
			name: "saturday-started window is not active",
			now:  at(saturday, 23, 40),
			st:   DayState{Date: "2025-10-18"},
			none: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextFireTime(tt.now, r, tt.st)
			if tt.none {
				if ok {
					t.Fatalf("expected no fire, got %v", got)
				}
				return
			}
			if !ok || !got.Equal(tt.want) {
				t.Fatalf("NextFireTime = %v (ok=%v), want %v", got, ok, tt.want)
			}
		})
	}
}

func TestNextFireTimeOvershootCollapsesToLateTimes(t *testing.T) {
	t.Parallel()
	r := Rule{
		ID:         "short",
		Enabled:    true,
		ActiveDays: [7]bool{true, true, true, true, true, true, true},
		StartTime:  "09:00",
		Deadline:   "09:10",
		Interval:   15,
		LateTimes:  []string{"09:40"},
	}
	st := DayState{Date: "2025-10-17"}

	// First tick (09:15) would overshoot the 09:10 deadline: the window
	// collapses to start + late times.
	got, ok := NextFireTime(at(friday, 9, 5), r, st)
	if !ok || !got.Equal(at(friday, 9, 40)) {
		t.Fatalf("NextFireTime(09:05) = %v (ok=%v), want 09:40", got, ok)
	}
	got, ok = NextFireTime(at(friday, 8, 0), r, st)
	if !ok || !got.Equal(at(friday, 9, 0)) {
		t.Fatalf("NextFireTime(08:00) = %v (ok=%v), want 09:00", got, ok)
	}
}

func TestTodayFireTimes(t *testing.T) {
	t.Parallel()
	r := weekdayRule()

	got := TodayFireTimes(friday, r)
	// 09:00..10:00 every 15m = 5 ticks, plus two late times.
	if len(got) != 7 {
		t.Fatalf("len(TodayFireTimes) = %d, want 7", len(got))
	}
	if !got[0].Equal(at(friday, 9, 0)) || !got[4].Equal(at(friday, 10, 0)) || !got[6].Equal(at(friday, 11, 0)) {
		t.Fatalf("unexpected schedule: %v", got)
	}

	if TodayFireTimes(saturday, r) != nil {
		t.Fatal("inactive day must have no schedule")
	}
}

func TestUntilDeadline(t *testing.T) {
	t.Parallel()
	r := weekdayRule()

	cd := UntilDeadline(at(friday, 8, 30), r)
	if cd.Past || cd.Hours != 1 || cd.Minutes != 30 {
		t.Fatalf("UntilDeadline(08:30) = %+v", cd)
	}
	if cd := UntilDeadline(at(friday, 10, 1), r); !cd.Past {
		t.Fatalf("UntilDeadline(10:01) = %+v, want past", cd)
	}
}
