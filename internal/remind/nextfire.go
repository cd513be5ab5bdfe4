package remind

import "time"

// IsActiveDay reports whether date's weekday is enabled for the rule.
// Go counts Sunday as 0; ActiveDays is Monday-first.
func IsActiveDay(date time.Time, r Rule) bool {
	idx := (int(date.Weekday()) + 6) % 7
	return r.ActiveDays[idx]
}

// NextFireTime returns the next instant at or after now at which the rule
// should fire, or false when the rule has no more fires today.
//
// Semantics:
//   - A completed or inactive-day rule never fires.
//   - A cross-midnight window (deadline numerically before start) is folded
//     onto a single minute axis by adding a day to the deadline, and to now
//     only when now's raw minutes precede the start (i.e. now is past local
//     midnight in the second half of the window). The window belongs to the
//     day it started on, for both the active-day check and materialization.
//   - An instant exactly on an interval boundary (or a late time) fires now,
//     never the next slot, so re-polling at a due instant keeps returning it
//     until the caller acts.
//   - An interval tick that would overshoot the deadline collapses to the
//     late times.
func NextFireTime(now time.Time, r Rule, st DayState) (time.Time, bool) {
	if st.Date == DateKey(now) && st.Completed(r.ID) {
		return time.Time{}, false
	}

	start, err := ParseTimeOfDay(r.StartTime)
	if err != nil {
		return time.Time{}, false
	}
	rawDeadline, err := ParseTimeOfDay(r.Deadline)
	if err != nil {
		return time.Time{}, false
	}

	deadline := rawDeadline
	crossing := deadline < start
	nowMin := MinutesSinceMidnight(now)
	base := now // calendar day the window started on
	if crossing {
		deadline += minutesPerDay
		if nowMin < start {
			nowMin += minutesPerDay
			base = now.AddDate(0, 0, -1)
		}
	}

	if !IsActiveDay(base, r) {
		return time.Time{}, false
	}

	if nowMin < start {
		return AtMinutes(base, start), true
	}

	iv := r.Interval
	if iv < 1 {
		iv = 1
	}
	if nowMin <= deadline {
		offset := nowMin - start
		if offset%iv == 0 {
			return TruncateMinute(now), true
		}
		if next := start + (offset/iv+1)*iv; next <= deadline {
			return AtMinutes(base, next), true
		}
		// Next tick overshoots the deadline; only the late times remain.
	}

	best := -1
	for _, lt := range r.LateTimes {
		lm, err := ParseTimeOfDay(lt)
		if err != nil {
			continue
		}
		// The raw (non-folded) deadline decides which side of midnight a
		// late time belongs to. Late times numerically preceding the start
		// still classify correctly through this comparison.
		if crossing && lm >= rawDeadline {
			lm += minutesPerDay
		}
		if lm == nowMin {
			return TruncateMinute(now), true
		}
		if lm > nowMin && (best < 0 || lm < best) {
			best = lm
		}
	}
	if best >= 0 {
		return AtMinutes(base, best), true
	}
	return time.Time{}, false
}

// TodayFireTimes lists every instant the rule would fire on day's window,
// ignoring completion state. Nil when day is not an active day.
func TodayFireTimes(day time.Time, r Rule) []time.Time {
	if !IsActiveDay(day, r) {
		return nil
	}
	start, err := ParseTimeOfDay(r.StartTime)
	if err != nil {
		return nil
	}
	rawDeadline, err := ParseTimeOfDay(r.Deadline)
	if err != nil {
		return nil
	}
	deadline := rawDeadline
	crossing := deadline < start
	if crossing {
		deadline += minutesPerDay
	}
	iv := r.Interval
	if iv < 1 {
		iv = 1
	}

	var out []time.Time
	for m := start; m <= deadline; m += iv {
		out = append(out, AtMinutes(day, m))
	}
	for _, lt := range r.LateTimes {
		lm, err := ParseTimeOfDay(lt)
		if err != nil {
			continue
		}
		if crossing && lm >= rawDeadline {
			lm += minutesPerDay
		}
		if lm > deadline {
			out = append(out, AtMinutes(day, lm))
		}
	}
	return out
}

// Countdown is structured time remaining until a rule's deadline, kept as
// fields so presentation stays out of the core.
type Countdown struct {
	Past    bool
	Hours   int
	Minutes int
}

// UntilDeadline reports how long until the rule's deadline relative to now.
func UntilDeadline(now time.Time, r Rule) Countdown {
	start, err := ParseTimeOfDay(r.StartTime)
	if err != nil {
		return Countdown{Past: true}
	}
	deadline, err := ParseTimeOfDay(r.Deadline)
	if err != nil {
		return Countdown{Past: true}
	}
	nowMin := MinutesSinceMidnight(now)
	if deadline < start {
		deadline += minutesPerDay
		if nowMin < start {
			nowMin += minutesPerDay
		}
	}
	if nowMin > deadline {
		return Countdown{Past: true}
	}
	left := deadline - nowMin
	return Countdown{Hours: left / 60, Minutes: left % 60}
}
