package remind

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// ParseError reports a malformed "HH:mm" value. It is surfaced to the data
// owner (config validation); the scheduling core assumes validated input.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid time %q: %s", e.Input, e.Reason)
}

// ParseTimeOfDay parses "HH:mm" into minutes since midnight (0..1439).
func ParseTimeOfDay(s string) (int, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return 0, &ParseError{Input: s, Reason: "expected HH:mm"}
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, &ParseError{Input: s, Reason: "hour out of range"}
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, &ParseError{Input: s, Reason: "minute out of range"}
	}
	return h*60 + m, nil
}

// MinutesSinceMidnight returns t's wall-clock minute of day.
func MinutesSinceMidnight(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// AtMinutes materializes a minute offset on day's calendar date, truncated to
// minute precision. Offsets >= 1440 roll into following days; this is how a
// cross-midnight window maps back onto concrete instants.
func AtMinutes(day time.Time, minutes int) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, minutes/60, minutes%60, 0, 0, day.Location())
}

// TruncateMinute drops seconds and below.
func TruncateMinute(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, t.Hour(), t.Minute(), 0, 0, t.Location())
}

// DateKey formats t's calendar day as "YYYY-MM-DD", the join key used by
// DayState.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// NextMidnight returns the first instant of the calendar day after t.
func NextMidnight(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d+1, 0, 0, 0, 0, t.Location())
}

// StaleState reports whether st was tracked for a day other than today and
// must be reset before scheduling. An empty date is always stale.
func StaleState(st DayState, today time.Time) bool {
	return st.Date == "" || st.Date != DateKey(today)
}

// ClockStyle selects presentation format for FormatTimeOfDay.
type ClockStyle string

const (
	Clock24 ClockStyle = "24h"
	Clock12 ClockStyle = "12h"
)

// FormatTimeOfDay renders a minute-of-day value. Pure presentation; offsets
// past midnight wrap around.
func FormatTimeOfDay(minutes int, style ClockStyle) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	h, m := minutes/60, minutes%60
	if style != Clock12 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, m, suffix)
}
