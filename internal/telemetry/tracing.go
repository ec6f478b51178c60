package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this module's spans in exported trace data.
const tracerName = "github.com/mergepilot-dev/mergepilot"

// NewTracerProvider builds an SDK TracerProvider tagged with
// serviceName, sampling every span. It registers no exporter: callers
// that want spans to leave the process attach one with
// sdktrace.WithBatcher/WithSyncer before calling otel.SetTracerProvider
// with the result. Without an exporter attached, spans are still
// created and propagated (useful for in-process span assertions in
// tests) but never leave the process.
func NewTracerProvider(serviceName string) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

// Tracer returns the package-wide tracer. Callers that haven't
// configured an OpenTelemetry SDK still get a valid no-op tracer from
// otel's global provider default.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartGateSpan starts a span for one gate attempt, tagging it with the
// item, gate, and attempt number so traces line up with GateResult
// records.
func StartGateSpan(ctx context.Context, itemName, gateName string, attempt int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gate.attempt",
		trace.WithAttributes(
			attribute.String("mergepilot.item", itemName),
			attribute.String("mergepilot.gate", gateName),
			attribute.Int("mergepilot.attempt", attempt),
		),
	)
}

// StartRunSpan starts the top-level span for one orchestrator run.
func StartRunSpan(ctx context.Context, target string, itemCount int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("mergepilot.target", target),
			attribute.Int("mergepilot.item_count", itemCount),
		),
	)
}
