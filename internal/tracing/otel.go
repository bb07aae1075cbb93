// Package tracing provides distributed tracing support using OpenTelemetry,
// layered on top of the lightweight context-key trace propagation in
// tracing.go. TraceInfo, its headers, and FromContext live in tracing.go;
// this file only adds OTel SDK span creation around domain operations.
package tracing

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig holds OpenTelemetry configuration.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
}

var globalTracer trace.Tracer

// InitOTel initializes OpenTelemetry with the given configuration.
// Returns a shutdown function that should be called on application exit.
func InitOTel(cfg OTelConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	globalTracer = tp.Tracer(cfg.ServiceName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// GetTracer returns the global tracer, falling back to a no-op tracer
// before InitOTel has run.
func GetTracer() trace.Tracer {
	if globalTracer == nil {
		return otel.Tracer("noop")
	}
	return globalTracer
}

// SpanKind represents the role of a span in this service's pipeline.
type SpanKind string

const (
	SpanKindIngest    SpanKind = "ingest"
	SpanKindGateway   SpanKind = "gateway"
	SpanKindAnalysis  SpanKind = "analysis"
	SpanKindForensic  SpanKind = "forensic"
	SpanKindRegistry  SpanKind = "registry"
)

// IngestSpan starts a span around a batch ingestion call.
func IngestSpan(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "ingest.batch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("ingest.batch_size", batchSize),
			attribute.String("span.kind", string(SpanKindIngest)),
		),
	)
}

// GatewaySpan starts a span around a vector-store gateway RPC.
func GatewaySpan(ctx context.Context, operation, collection string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "gateway."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.operation", operation),
			attribute.String("gateway.collection", collection),
			attribute.String("span.kind", string(SpanKindGateway)),
		),
	)
}

// AnalysisSpan starts a span around one rhythm-analysis window evaluation.
func AnalysisSpan(ctx context.Context, windowSec int) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "analysis.window",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("analysis.window_sec", windowSec),
			attribute.String("span.kind", string(SpanKindAnalysis)),
		),
	)
}

// ForensicSpan starts a span around a federated forensic query operation.
func ForensicSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "forensic."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("forensic.operation", operation),
			attribute.String("span.kind", string(SpanKindForensic)),
		),
	)
}

// AddAttributes adds arbitrary key/value attributes to a span.
func AddAttributes(span trace.Span, attrs map[string]interface{}) {
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String(k, val))
		case int:
			span.SetAttributes(attribute.Int(k, val))
		case int64:
			span.SetAttributes(attribute.Int64(k, val))
		case float64:
			span.SetAttributes(attribute.Float64(k, val))
		case bool:
			span.SetAttributes(attribute.Bool(k, val))
		}
	}
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("error", true))
	}
}

// SetSuccess marks the span as successful.
func SetSuccess(span trace.Span) {
	span.SetAttributes(attribute.Bool("success", true))
}

// SetResultCount records the number of items an operation produced.
func SetResultCount(span trace.Span, resultType string, count int) {
	span.SetAttributes(
		attribute.String("result.type", resultType),
		attribute.Int("result.count", count),
	)
}
