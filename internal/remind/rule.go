package remind

// Rule is a user-defined recurring reminder definition.
//
// StartTime, Deadline and LateTimes are "HH:mm" wall-clock strings. A
// Deadline numerically before StartTime means the window crosses midnight
// (e.g. start 23:30, deadline 00:30 the next day). Interval is minutes and
// must be >= 1. A zero-width window (Deadline == StartTime) is invalid and
// rejected by config validation, not handled here.
type Rule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	// ActiveDays is Monday-first: [Mon, Tue, Wed, Thu, Fri, Sat, Sun].
	ActiveDays [7]bool `json:"active_days"`

	StartTime string   `json:"start_time"`
	Deadline  string   `json:"deadline"`
	Interval  int      `json:"interval"`
	LateTimes []string `json:"late_times,omitempty"`

	// Presentation payload. The scheduling core never inspects these; they
	// are forwarded verbatim to the notification layer.
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
	ClickURL string `json:"click_url,omitempty"`
	Template string `json:"template,omitempty"`
}

// DayState records which rules are acknowledged for one tracked calendar day.
// A rule absent from CompletedRuleIDs is still pending for Date.
type DayState struct {
	Date             string   `json:"date"` // "YYYY-MM-DD"
	CompletedRuleIDs []string `json:"completed_rule_ids"`
}

// Completed reports whether the rule is in the state's completed set.
// It does not check state freshness; callers must make sure st.Date is the
// day being evaluated (a stale state means "all rules pending").
func (st DayState) Completed(ruleID string) bool {
	for _, id := range st.CompletedRuleIDs {
		if id == ruleID {
			return true
		}
	}
	return false
}
