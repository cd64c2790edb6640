package events

import (
	"context"

	"github.com/fieldservice/concierge/internal/telemetry"
)

// LogSink is the always-on structured log sink.
type LogSink struct {
	log telemetry.Logger
}

// NewLogSink builds a LogSink writing through log.
func NewLogSink(log telemetry.Logger) *LogSink {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &LogSink{log: log}
}

// Handle implements Subscriber.
func (s *LogSink) Handle(ctx context.Context, evt Event) error {
	kv := make([]any, 0, 4+2*len(evt.Payload))
	kv = append(kv, "event_type", string(evt.Type), "session_id", evt.SessionID)
	for k, v := range evt.Payload {
		kv = append(kv, k, v)
	}
	s.log.Info(ctx, "event", kv...)
	return nil
}
