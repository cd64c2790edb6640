package events

import (
	"context"
	"time"

	"github.com/fieldservice/concierge/internal/tools"
	"github.com/fieldservice/concierge/internal/transition"
)

// Recorder adapts a Bus to the agent.EventRecorder and
// transition.EventRecorder seams those packages declare for their own
// narrow view onto the event sink, so neither depends on the concrete Bus
// type.
type Recorder struct {
	bus *Bus
}

// NewRecorder builds a Recorder publishing through bus.
func NewRecorder(bus *Bus) *Recorder {
	return &Recorder{bus: bus}
}

// RecordToolInvoked implements agent.EventRecorder.
func (r *Recorder) RecordToolInvoked(ctx context.Context, sessionID string, inv tools.Invocation) {
	r.bus.Publish(Event{
		Type: TypeToolInvoked, SessionID: sessionID, Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"name": inv.Name, "ok": inv.Result.Ok, "kind": string(inv.Result.Kind),
			"latency_ms": inv.Latency.Milliseconds(),
		},
	})
}

// RecordTooManyTools implements agent.EventRecorder. The turn itself still
// completes with the fallback text, so this is not a TurnAborted.
func (r *Recorder) RecordTooManyTools(ctx context.Context, sessionID string) {
	r.bus.Publish(Event{
		Type: TypeTooManyTools, SessionID: sessionID, Timestamp: time.Now().UTC(),
		Payload: map[string]any{"reason": "too_many_tools"},
	})
}

// RecordSemanticEvaluated implements transition.EventRecorder.
func (r *Recorder) RecordSemanticEvaluated(ctx context.Context, ev transition.Event) {
	r.bus.Publish(Event{
		Type: TypeSemanticEvaluated, SessionID: ev.SessionID, Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"predicate": ev.PredicateText, "result": ev.Verdict.Bool,
			"confidence": ev.Verdict.Confidence, "reason": ev.Verdict.Reason,
		},
	})
}
