// Package telemetry defines the logging, metrics, and tracing abstractions
// shared by every component in the orchestrator. Concrete implementations
// (Clue/OTEL-backed, or no-op for tests) satisfy these interfaces so that
// core packages never depend on a specific logging or metrics backend.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log messages. Key-value pairs are supplied as
	// an alternating slice of keys and values (keyvals ...any).
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges for the operator
	// surface (sessions_active, turns_started, etc.).
	Metrics interface {
		IncCounter(name string, delta float64, labels ...string)
		RecordTimer(name string, d time.Duration, labels ...string)
		RecordGauge(name string, value float64, labels ...string)
	}

	// Tracer starts spans around turn execution, tool invocations, and
	// transition evaluation.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is a single unit of tracing work.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
