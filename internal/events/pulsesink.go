package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
)

const defaultPulseStreamName = "concierge_events"

// pulseEnvelope is the wire shape published to the Pulse stream: a thin
// JSON envelope carrying everything an external consumer (a dashboard,
// another service) needs without leaking internal event.Payload typing.
type pulseEnvelope struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// PulseSink fans events out onto a Redis-backed Pulse stream for external
// consumers (dashboards, other processes). It holds a direct
// streaming.Stream handle: this process only ever produces onto the
// stream, never consumes its own events back, so no consumer-group
// machinery is needed.
type PulseSink struct {
	stream *streaming.Stream
}

// NewPulseSink opens (creating if absent) the named Pulse stream backed by
// rdb. name defaults to "concierge_events".
func NewPulseSink(rdb *redis.Client, name string) (*PulseSink, error) {
	if name == "" {
		name = defaultPulseStreamName
	}
	stream, err := streaming.NewStream(name, rdb)
	if err != nil {
		return nil, fmt.Errorf("pulsesink: open stream %q: %w", name, err)
	}
	return &PulseSink{stream: stream}, nil
}

// Handle implements Subscriber, publishing evt as a JSON-encoded Pulse
// stream entry under its event type name.
func (s *PulseSink) Handle(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(pulseEnvelope{
		Type:      string(evt.Type),
		SessionID: evt.SessionID,
		Timestamp: evt.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload:   evt.Payload,
	})
	if err != nil {
		return fmt.Errorf("pulsesink: marshal envelope: %w", err)
	}
	_, err = s.stream.Add(ctx, string(evt.Type), payload)
	return err
}

// Close destroys nothing; the underlying Redis connection is owned by the
// caller. It exists so PulseSink can be wired alongside other sinks that
// need a symmetrical shutdown hook.
func (s *PulseSink) Close(context.Context) error { return nil }
