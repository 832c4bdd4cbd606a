// Package tracing wraps OpenTelemetry span creation for the orchestrator,
// grounded on the teacher's internal/observability.Tracer: the same
// Start/RecordError/SetAttributes helper shape, trimmed to the three
// otel modules this runtime actually depends on (otel, otel/trace,
// otel/sdk) — no OTLP exporter wiring, since the out-of-scope ModelProvider
// wire adapters are the only place an exporter endpoint would plausibly be
// configured. A caller that wants spans to leave the process supplies its
// own sdktrace.SpanExporter to NewTracer; without one, spans are created
// and recorded through the real SDK API but never exported, the same
// no-op-provider fallback the teacher's NewTracer takes when its
// collector endpoint is unset or the exporter fails to construct.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures a Tracer's resource attributes and sampling.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Exporter is optional; nil means spans are recorded but never
	// exported anywhere (a valid, if inert, configuration).
	Exporter sdktrace.SpanExporter

	// SamplingRate is the fraction of traces recorded, 0.0-1.0. Zero
	// defaults to 1.0 (always sample), matching the teacher's default.
	SamplingRate float64
}

// Tracer creates and annotates spans for agent-runtime lifecycle stages:
// one span per model turn, one span per ToolCallRecord.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds a Tracer from cfg. The returned shutdown func flushes and
// releases the underlying TracerProvider; callers should defer it.
func New(cfg Config) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentrt"
	}
	sampler := sdktrace.AlwaysSample()
	switch {
	case cfg.SamplingRate <= 0:
		// default: always sample
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		res = resource.Default()
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if cfg.Exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.Exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}, provider.Shutdown
}

// Noop returns a Tracer whose spans are always no-ops, for callers that
// did not configure tracing at all (RuntimeOptions.Tracer is nil-safe on
// every method below regardless, so Noop exists only for callers that
// want a concrete, inspectable Tracer value in tests).
func Noop() *Tracer {
	return &Tracer{tracer: otel.Tracer("agentrt-noop")}
}

// StartModelTurn opens a span for one agent main-loop model call (spec
// §4.1 steps 3-5), tagged with the agent id and round number.
func (t *Tracer) StartModelTurn(ctx context.Context, agentID string, round int) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "agent.model_turn", trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.Int("agent.round", round),
	))
}

// StartToolCall opens a span for one ToolCallRecord's full §4.4
// lifecycle, tagged with the call id and tool name.
func (t *Tracer) StartToolCall(ctx context.Context, agentID, callID, toolName string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, fmt.Sprintf("tool.%s", toolName), trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("tool.call_id", callID),
		attribute.String("tool.name", toolName),
	))
}

// RecordOutcome sets a span's status and, for an error outcome, records
// the error message as a span event rather than a Go error value (tool
// outcomes are synthesized strings, not errors, by the time a span would
// see them).
func RecordOutcome(span trace.Span, isError bool, detail string) {
	if isError {
		span.SetStatus(codes.Error, detail)
		span.AddEvent("tool_error", trace.WithAttributes(attribute.String("detail", detail)))
		return
	}
	span.SetStatus(codes.Ok, "")
}
