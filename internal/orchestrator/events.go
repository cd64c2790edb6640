package orchestrator

import (
	"time"

	"github.com/fieldservice/concierge/internal/agent"
	"github.com/fieldservice/concierge/internal/events"
	"github.com/fieldservice/concierge/internal/semantic"
	"github.com/fieldservice/concierge/internal/tools"
)

func toSemanticExchanges(in []agent.Exchange) []semantic.Exchange {
	out := make([]semantic.Exchange, len(in))
	for i, ex := range in {
		out[i] = semantic.Exchange{Role: ex.Role, Text: ex.Text}
	}
	return out
}

func (o *Orchestrator) publishTurnReport(r Report) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type: events.TypeTurnReport, SessionID: r.SessionID, Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"turn_id": r.TurnID,
			"goal_in": r.GoalIn, "goal_out": r.GoalOut, "advanced": r.Advanced,
			"tool_invocations": r.ToolInvocations, "input_tokens": r.Usage.InputTokens,
			"output_tokens": r.Usage.OutputTokens, "duration_ms": r.Duration.Milliseconds(),
			"session_terminal": r.SessionTerminal,
		},
	})
}

func (o *Orchestrator) publishGoalTransitioned(sid, from, to, reason string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type: events.TypeGoalTransitioned, SessionID: sid, Timestamp: time.Now().UTC(),
		Payload: map[string]any{"from_goal_id": from, "to_goal_id": to, "reason": reason},
	})
}

func (o *Orchestrator) publishTurnAborted(sid, reason string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type: events.TypeTurnAborted, SessionID: sid, Timestamp: time.Now().UTC(), Critical: true,
		Payload: map[string]any{"reason": reason},
	})
}

func (o *Orchestrator) publishToolInvoked(sid string, inv tools.Invocation) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type: events.TypeToolInvoked, SessionID: sid, Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"name": inv.Name, "ok": inv.Result.Ok, "kind": string(inv.Result.Kind),
			"latency_ms": inv.Latency.Milliseconds(),
		},
	})
}
