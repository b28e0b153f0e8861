package config

import (
	"context"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type telemetryOptions struct {
	exporter sdktrace.SpanExporter
}

// TelemetryOption configures SetupTelemetry.
type TelemetryOption func(*telemetryOptions)

// WithSpanExporter sends spans to exp instead of the OTLP/HTTP endpoint. It
// enables tracing even when no endpoint is configured.
func WithSpanExporter(exp sdktrace.SpanExporter) TelemetryOption {
	return func(o *telemetryOptions) { o.exporter = exp }
}

// SetupTelemetry traces GitHub searches and datastore calls of githubie. Spans
// go to the configured OTLP/HTTP endpoint, sampled by TRACE_SAMPLE_RATIO and
// tagged with the datastore backend. Without an endpoint it installs nothing.
// The returned func flushes pending spans.
func SetupTelemetry(ctx context.Context, cfg *Config, opts ...TelemetryOption) (func(), error) {
	var o telemetryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.exporter == nil {
		if !cfg.TelemetryEnabled() {
			return func() {}, nil
		}
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return func() {}, err
		}
		o.exporter = exp
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.GetServiceName()),
		semconv.ServiceVersion(buildVersion()),
	}
	if dsn, err := cfg.GetDsn(); err == nil {
		attrs = append(attrs, attribute.String("githubie.datastore", dsn.Scheme))
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return func() {}, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(o.exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.GetTraceSampleRatio()))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }, nil
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}
