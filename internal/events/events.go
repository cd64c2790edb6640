// Package events implements the event and log sink: a typed event model
// delivered asynchronously and best-effort to a set of subscribing sinks,
// fed by a bounded in-memory queue that drops the oldest non-critical
// event on overflow.
package events

import (
	"context"
	"time"
)

// Type enumerates the well-known event kinds emitted by the orchestrator.
type Type string

const (
	TypeTurnReport        Type = "turn_report"
	TypeToolInvoked       Type = "tool_invoked"
	TypeGoalTransitioned  Type = "goal_transitioned"
	TypeSemanticEvaluated Type = "semantic_evaluated"
	TypeTurnAborted       Type = "turn_aborted"
	TypeTooManyTools      Type = "too_many_tools"
	TypeConfigLoaded      Type = "config_loaded"
)

// Event is the common envelope for every event type. Payload carries the
// type-specific fields.
type Event struct {
	Type      Type
	SessionID string
	Timestamp time.Time
	// Critical events already queued are never dropped to make room on
	// overflow; an incoming event, critical or not, is dropped only when the
	// queue holds nothing but critical events. TurnAborted and ConfigLoaded
	// are marked critical; the rest are best-effort telemetry.
	Critical bool
	Payload  map[string]any
}

// Subscriber reacts to published events.
type Subscriber interface {
	Handle(ctx context.Context, evt Event) error
}

// SubscriberFunc adapts a function to a Subscriber.
type SubscriberFunc func(ctx context.Context, evt Event) error

// Handle implements Subscriber.
func (f SubscriberFunc) Handle(ctx context.Context, evt Event) error { return f(ctx, evt) }
