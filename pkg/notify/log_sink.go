package notify

import (
	"context"
	"log/slog"
)

// LogSink writes notifications to structured logs instead of an outbound
// channel. It is the default sink for deployments without a mail relay.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a sink backed by the given logger (slog.Default when nil).
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

// Send records the notification at INFO level. It never fails, so a missing
// outbound channel never blocks workflow execution.
func (s *LogSink) Send(ctx context.Context, recipients []string, subject, body string) error {
	s.log.InfoContext(ctx, "notification dispatched",
		slog.Int("recipient_count", len(recipients)),
		slog.Any("recipients", recipients),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(body)),
	)
	return nil
}
