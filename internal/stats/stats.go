// Package stats derives streaks and completion rates from the acknowledgement
// history. Pure computation over store records; nothing here touches the
// clock or the store itself.
package stats

import (
	"time"

	"nudged/internal/remind"
	"nudged/internal/store"
)

// lookbackDays bounds streak scans; history retention is shorter anyway.
const lookbackDays = 400

type RuleStats struct {
	RuleID string

	TotalCompletions int

	// CurrentStreak counts consecutive active days with a completion,
	// ending today. A not-yet-completed today is in progress and neither
	// extends nor breaks the streak; inactive days never break it.
	CurrentStreak int
	LongestStreak int

	// Completion rates over the trailing 7 and 30 calendar days, counting
	// only the rule's active days. An active, incomplete today is excluded
	// (still in progress). Range 0..1; zero active days yields 0.
	Rate7d  float64
	Rate30d float64
}

// Compute builds per-rule statistics as of today, one entry per rule in
// input order.
func Compute(records []store.HistoryRecord, rules []remind.Rule, today time.Time) []RuleStats {
	byRule := map[string]map[string]bool{}
	var oldest string
	for _, rec := range records {
		m := byRule[rec.RuleID]
		if m == nil {
			m = map[string]bool{}
			byRule[rec.RuleID] = m
		}
		m[rec.Date] = true
		if oldest == "" || rec.Date < oldest {
			oldest = rec.Date
		}
	}

	out := make([]RuleStats, 0, len(rules))
	for _, r := range rules {
		done := byRule[r.ID]
		out = append(out, RuleStats{
			RuleID:           r.ID,
			TotalCompletions: len(done),
			CurrentStreak:    currentStreak(done, r, today),
			LongestStreak:    longestStreak(done, r, oldest, today),
			Rate7d:           completionRate(done, r, today, 7),
			Rate30d:          completionRate(done, r, today, 30),
		})
	}
	return out
}

func currentStreak(done map[string]bool, r remind.Rule, today time.Time) int {
	day := today
	if remind.IsActiveDay(day, r) && !done[remind.DateKey(day)] {
		day = day.AddDate(0, 0, -1)
	}
	streak := 0
	for i := 0; i < lookbackDays; i++ {
		if remind.IsActiveDay(day, r) {
			if !done[remind.DateKey(day)] {
				break
			}
			streak++
		}
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

func longestStreak(done map[string]bool, r remind.Rule, oldest string, today time.Time) int {
	if len(done) == 0 || oldest == "" {
		return 0
	}
	start, err := time.ParseInLocation("2006-01-02", oldest, today.Location())
	if err != nil {
		return 0
	}
	todayKey := remind.DateKey(today)

	longest, run := 0, 0
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		if !remind.IsActiveDay(d, r) {
			continue
		}
		key := remind.DateKey(d)
		switch {
		case done[key]:
			run++
			if run > longest {
				longest = run
			}
		case key == todayKey:
			// in progress, keeps the run alive
		default:
			run = 0
		}
	}
	return longest
}

func completionRate(done map[string]bool, r remind.Rule, today time.Time, days int) float64 {
	active, hit := 0, 0
	for i := 0; i < days; i++ {
		d := today.AddDate(0, 0, -i)
		if !remind.IsActiveDay(d, r) {
			continue
		}
		if done[remind.DateKey(d)] {
			active++
			hit++
		} else if i != 0 {
			active++
		}
	}
	if active == 0 {
		return 0
	}
	return float64(hit) / float64(active)
}
