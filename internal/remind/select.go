package remind

import "time"

// Next pairs a rule with its computed next fire instant.
type Next struct {
	Rule Rule
	At   time.Time
}

// NextAcross scans enabled rules and returns the globally earliest next fire.
// When several rules share the earliest instant the first one in input order
// is returned; use DueAt to collect every tied rule for dispatch.
func NextAcross(now time.Time, rules []Rule, st DayState) (Next, bool) {
	var best Next
	found := false
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		at, ok := NextFireTime(now, r, st)
		if !ok {
			continue
		}
		if !found || at.Before(best.At) {
			best = Next{Rule: r, At: at}
			found = true
		}
	}
	return best, found
}

// DueAt returns every enabled rule whose next fire instant equals at,
// preserving input order so dispatch is deterministic.
func DueAt(now time.Time, rules []Rule, st DayState, at time.Time) []Rule {
	var due []Rule
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		t, ok := NextFireTime(now, r, st)
		if ok && t.Equal(at) {
			due = append(due, r)
		}
	}
	return due
}

// DueWithin returns every enabled rule whose next fire falls within tol of
// now, in input order. The dispatcher evaluates this against the real clock
// on wake-up, so a timer that fires late (suspend/resume) still matches the
// rules it was armed for without double-firing earlier ones.
func DueWithin(now time.Time, rules []Rule, st DayState, tol time.Duration) []Rule {
	var due []Rule
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		t, ok := NextFireTime(now, r, st)
		if ok && !t.After(now.Add(tol)) {
			due = append(due, r)
		}
	}
	return due
}
