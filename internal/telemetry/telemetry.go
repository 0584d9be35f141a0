// Package telemetry bundles the structured logger, tracer and counters used by
// the retry loop. Logging goes through goa.design/clue/log; spans and counters
// go to the global OpenTelemetry providers, which are no-ops until an SDK is
// installed by the host process.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

const instrumentationName = "github.com/example/query-router-agent"

type (
	// Logger emits leveled messages with key/value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, err error, msg string, keyvals ...any)
	}

	ClueLogger struct{}

	NoopLogger struct{}

	Telemetry struct {
		Log    Logger
		tracer trace.Tracer

		steps        metric.Int64Counter
		toolFailures metric.Int64Counter
		outcomes     metric.Int64Counter
	}
)

// New wires logger with the global tracer and meter. A nil logger logs through clue.
func New(logger Logger) *Telemetry {
	if logger == nil {
		logger = ClueLogger{}
	}
	meter := otel.Meter(instrumentationName)
	t := &Telemetry{Log: logger, tracer: otel.Tracer(instrumentationName)}
	// instrument creation only fails on invalid names
	t.steps, _ = meter.Int64Counter("retry_agent.steps", metric.WithDescription("Steps executed by the retry loop"))
	t.toolFailures, _ = meter.Int64Counter("retry_agent.tool_failures", metric.WithDescription("Routed tool invocations that failed"))
	t.outcomes, _ = meter.Int64Counter("retry_agent.outcomes", metric.WithDescription("Terminal task statuses"))
	return t
}

func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *Telemetry) CountStep(ctx context.Context, tool string, hasError bool) {
	if t.steps != nil {
		t.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool), attribute.Bool("has_error", hasError)))
	}
}

func (t *Telemetry) CountToolFailure(ctx context.Context, tool string) {
	if t.toolFailures != nil {
		t.toolFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

func (t *Telemetry) CountOutcome(ctx context.Context, status string) {
	if t.outcomes != nil {
		t.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, keyvals)...)
}

func (ClueLogger) Error(ctx context.Context, err error, msg string, keyvals ...any) {
	log.Error(ctx, err, fielders(msg, keyvals)...)
}

func (NoopLogger) Debug(context.Context, string, ...any)        {}
func (NoopLogger) Info(context.Context, string, ...any)         {}
func (NoopLogger) Warn(context.Context, string, ...any)         {}
func (NoopLogger) Error(context.Context, error, string, ...any) {}

// fielders converts k1, v1, k2, v2... into clue fields. Non-string keys are
// skipped; a dangling key is paired with nil.
func fielders(msg string, keyvals []any) []log.Fielder {
	out := make([]log.Fielder, 0, 1+len(keyvals)/2)
	out = append(out, log.KV{K: "msg", V: msg})
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		out = append(out, log.KV{K: k, V: v})
	}
	return out
}
