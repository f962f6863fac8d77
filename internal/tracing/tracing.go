// Package tracing emits one span per pipeline stage via OpenTelemetry,
// mirroring the teacher's span-per-stage discipline in
// internal/agent/loop_tracing.go (LLM call / tool call / agent spans) but
// backed by the real go.opentelemetry.io/otel SDK instead of a bespoke
// store.SpanData row. No OTLP exporter is wired (see DESIGN.md): the
// tracer provider defaults to the SDK's in-process no-op-on-export
// behavior, so spans are created and ended (useful for context
// propagation, sync.WithSpan-style helpers, and future exporter wiring)
// without shipping any data off-process.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nextlevelbuilder/nanobot-gateway/internal/orchestrator"

// Provider wraps a configured SDK tracer provider. NewProvider installs it
// as the global provider so any package can call tracing.Tracer() without
// threading a handle through every call site.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a tracer provider with no span processor attached —
// spans are created, populated, and ended, but never exported. Swap in
// sdktrace.WithBatcher(exporter) here the day an exporter is wired.
func NewProvider() *Provider {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}
}

// Shutdown flushes and releases the provider's resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartStage opens a span for one chat-orchestrator pipeline stage (§4.4):
// "input_gate", "channel_resolve", "parallel_init", "credit_gate",
// "agent_route", "prompt_assembly", "llm_call", "tool_loop",
// "persistence". Callers must call the returned end func on every exit
// path, typically via defer.
func StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := tracer().Start(ctx, stage, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
