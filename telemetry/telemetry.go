// Package telemetry defines the observability contracts used across planguard.
// The interfaces are intentionally small so tests can provide lightweight
// stubs; the production implementation delegates to Clue logging and OTEL
// metrics/tracing. Emission is always best-effort: a failing sink must never
// abort or delay an analysis run.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Metric names emitted under the planguard namespace. Exactly four metrics
// exist: one run timer, two tool counters, and one per-tool timer.
const (
	MetricRunDuration  = "planguard.run_duration"
	MetricToolSuccess  = "planguard.tool_success"
	MetricToolFailure  = "planguard.tool_failure"
	MetricToolDuration = "planguard.tool_duration"
)

type (
	// Logger captures structured logging used throughout the analyzer.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter and timer helpers for run instrumentation.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
	}

	// Tracer abstracts span creation so orchestration code stays agnostic of
	// the underlying OpenTelemetry provider.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span represents an in-flight tracing span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
