package events

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldservice/concierge/internal/errs"
)

// PrometheusSink is the operator surface: it subscribes to the bus and
// maintains the process counters (turns_started, turns_completed,
// turns_aborted{reason}, tool_calls{name,outcome},
// semantic_evals{result}) plus a turn-duration histogram, exposed over
// promhttp.Handler for scraping. It is distinct from telemetry.Metrics
// (internal/telemetry), the generic OTEL-backed instrumentation seam the
// core packages use internally.
type PrometheusSink struct {
	registry *prometheus.Registry

	turnsStarted   prometheus.Counter
	turnsCompleted prometheus.Counter
	turnsAborted   *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	llmStreamErr   prometheus.Counter
	semanticEvals  *prometheus.CounterVec
	goalTransition prometheus.Counter
	turnDuration   prometheus.Histogram
}

// NewPrometheusSink builds a PrometheusSink with its own registry (so a
// process can host it independently of any global default registry).
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &PrometheusSink{
		registry: reg,
		turnsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "concierge_turns_started_total", Help: "Turns started.",
		}),
		turnsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "concierge_turns_completed_total", Help: "Turns completed without abort.",
		}),
		turnsAborted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_turns_aborted_total", Help: "Turns aborted, by reason.",
		}, []string{"reason"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_tool_calls_total", Help: "Tool invocations, by tool name and outcome.",
		}, []string{"name", "outcome"}),
		llmStreamErr: factory.NewCounter(prometheus.CounterOpts{
			Name: "concierge_llm_stream_errors_total", Help: "LLM stream errors (provider disconnects, parse failures).",
		}),
		semanticEvals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_semantic_evals_total", Help: "Semantic condition evaluations, by result.",
		}, []string{"result"}),
		goalTransition: factory.NewCounter(prometheus.CounterOpts{
			Name: "concierge_goal_transitions_total", Help: "Goal transitions.",
		}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "concierge_turn_duration_seconds", Help: "Turn duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler exposes the sink's registry for a process's /metrics endpoint.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// TrackSessions registers the sessions_active gauge, sampled from count on
// every scrape. Call at most once per sink.
func (s *PrometheusSink) TrackSessions(count func() float64) {
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "concierge_sessions_active", Help: "Sessions created and not yet terminal.",
	}, count))
}

// Handle implements Subscriber.
func (s *PrometheusSink) Handle(_ context.Context, evt Event) error {
	switch evt.Type {
	case TypeTurnReport:
		s.turnsStarted.Inc()
		s.turnsCompleted.Inc()
		if d, ok := evt.Payload["duration_ms"].(int64); ok {
			s.turnDuration.Observe(float64(d) / 1000)
		}
	case TypeTurnAborted:
		reason, _ := evt.Payload["reason"].(string)
		s.turnsStarted.Inc()
		s.turnsAborted.WithLabelValues(reason).Inc()
		if reason == string(errs.KindLLMStreamError) {
			s.llmStreamErr.Inc()
		}
	case TypeToolInvoked:
		name, _ := evt.Payload["name"].(string)
		ok, _ := evt.Payload["ok"].(bool)
		outcome := "failure"
		if ok {
			outcome = "success"
		}
		s.toolCalls.WithLabelValues(name, outcome).Inc()
	case TypeSemanticEvaluated:
		result := "false"
		if b, ok := evt.Payload["result"].(bool); ok && b {
			result = "true"
		}
		s.semanticEvals.WithLabelValues(result).Inc()
	case TypeGoalTransitioned:
		s.goalTransition.Inc()
	}
	return nil
}
