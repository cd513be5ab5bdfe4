package notify

import (
	"strings"
	"time"

	"nudged/internal/remind"
)

// Render builds the deliverable notification for one rule firing at the given
// instant. A rule's Template may reference {name}, {time} and {deadline};
// without a template the body falls back to Message, then to a stock line.
func Render(r remind.Rule, at time.Time, style remind.ClockStyle) Notification {
	fire := remind.FormatTimeOfDay(remind.MinutesSinceMidnight(at), style)

	deadline := r.Deadline
	if m, err := remind.ParseTimeOfDay(r.Deadline); err == nil {
		deadline = remind.FormatTimeOfDay(m, style)
	}

	title := r.Title
	if title == "" {
		title = r.Name
	}

	body := r.Message
	if t := strings.TrimSpace(r.Template); t != "" {
		body = strings.NewReplacer(
			"{name}", r.Name,
			"{time}", fire,
			"{deadline}", deadline,
		).Replace(t)
	}
	if body == "" {
		body = r.Name + " is due (" + fire + ", deadline " + deadline + ")"
	}

	return Notification{
		RuleID:   r.ID,
		Title:    title,
		Body:     body,
		ClickURL: r.ClickURL,
		FireAt:   remind.TruncateMinute(at),
	}
}
