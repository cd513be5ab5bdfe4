package notify

import (
	"context"

	logx "nudged/pkg/logx"
)

// LogSink writes reminders to the log. It is the always-on fallback channel
// so a misconfigured Telegram setup still surfaces due reminders somewhere.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, n Notification) error {
	fields := []logx.Field{
		logx.String("rule", n.RuleID),
		logx.String("title", n.Title),
		logx.Time("due", n.FireAt),
	}
	if n.ClickURL != "" {
		fields = append(fields, logx.String("url", n.ClickURL))
	}
	s.log.Info(n.Body, fields...)
	return nil
}
