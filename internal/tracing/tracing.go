// Package tracing wires OpenTelemetry spans around verb handlers and NC
// sandbox calls (spec.md §10 ambient stack), adapted from the teacher's
// internal/observability/telemetry.go global-provider pattern.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls the tracing provider (spec.md §6 config table: TRACING_*).
type Config struct {
	Enabled     bool
	Exporter    string // otlp-http, noop
	Endpoint    string // host:port, e.g. localhost:4318
	ServiceName string
	SampleRate  float64
}

type provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var global = &provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}

// Init starts the global tracer provider. Called once from cmd/cc.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		global = &provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return fmt.Errorf("tracing: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp-http", "otlp", "":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("tracing: create OTLP exporter: %w", err)
		}
		exporter = exp
	case "noop":
		exporter = &noopExporter{}
	default:
		return fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 && cfg.SampleRate >= 0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	global = &provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName), enabled: true}
	return nil
}

// Shutdown flushes and stops the tracer provider. No-op if Init was never
// called or tracing is disabled.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

// Enabled reports whether a real (non-noop) provider is active.
func Enabled() bool { return global.enabled }

// StartVerbSpan opens a span around one CLC verb invocation, tagging the
// correlation ID as the cc.correlation_id attribute. cmd/cc's verb-call log
// line (internal/logging) does not fill in its CorrelationID field.
func StartVerbSpan(ctx context.Context, verb, correlationID string) (context.Context, trace.Span) {
	return global.tracer.Start(ctx, "verb."+verb,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("cc.verb", verb),
			attribute.String("cc.correlation_id", correlationID),
		),
	)
}

// StartNCSpan opens a span around one C4 sandbox call to a specific NC.
func StartNCSpan(ctx context.Context, ncVerb, ncURL string) (context.Context, trace.Span) {
	return global.tracer.Start(ctx, "nc."+ncVerb,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cc.nc_verb", ncVerb),
			attribute.String("cc.nc_url", ncURL),
		),
	)
}

// EndWithErr records err on span (if non-nil) before the caller's defer
// calls span.End().
func EndWithErr(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(1, err.Error()) // codes.Error = 1, matches teacher's HTTPMiddleware
}

type noopExporter struct{}

func (e *noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (e *noopExporter) Shutdown(ctx context.Context) error { return nil }
