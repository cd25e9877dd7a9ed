// Package tracing installs the process-wide OpenTelemetry tracer provider
// and exposes the StartSpan helper used by the hot paths: process_chunk,
// ASR calls, and reaper sweeps. It is kept separate from internal/telemetry
// (which depends on internal/registry for its Prometheus collectors) so that
// internal/session, internal/asr, and internal/registry can all call
// StartSpan without an import cycle.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for every span this service
// creates.
const TracerName = "github.com/yueh-ai/voice-to-text"

// Init installs a process-wide TracerProvider. Without an exporter
// configured, spans are recorded in-process but not shipped anywhere; this
// still exercises context propagation and span timing, and a real deployment
// plugs in an OTLP exporter via sdktrace.WithBatcher.
func Init(serviceName string) (shutdown func(context.Context) error, err error) {
	res, err := resource.New(context.Background())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the package-wide tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span named name under ctx, returning the updated
// context and the span.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name)
}
