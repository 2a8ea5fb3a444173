// Package tracing sets up the process-wide OpenTelemetry TracerProvider
// that pkg/llm and pkg/mcp pull their per-call tracer from via
// otel.Tracer(name). It carries no exporter of its own: which backend a
// deployment ships spans to (an OTLP collector, Jaeger, ...) is a
// deployment concern, not something this runtime hardcodes.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls sampling and the resource attributes attached to every
// span this process emits.
type Config struct {
	ServiceName string

	// SamplingRatio is the fraction of traces recorded, in [0, 1]. A ratio
	// of 0 still constructs spans (so code paths instrumenting them never
	// panic on a nil tracer) but records none of them.
	SamplingRatio float64
}

// Init installs a process-wide TracerProvider and returns a shutdown func
// that flushes and releases it. Callers should defer the returned func.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentcore"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRatio)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer is a thin pass-through to otel.Tracer, kept here so callers depend
// on this package rather than reaching into go.opentelemetry.io/otel
// directly for the one thing they need from it.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
