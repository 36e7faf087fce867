package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope of every span this module creates.
const TracerName = "github.com/blueberrycongee/unillm"

// OTLP exporter protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// TracingConfig contains configuration for OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Protocol    string            `yaml:"protocol"`     // grpc (default) or http
	Endpoint    string            `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	Headers     map[string]string `yaml:"headers"`      // Extra exporter headers, e.g. auth tokens
	ServiceName string            `yaml:"service_name"` // Service name for traces
	SampleRate  float64           `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool              `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultTracingConfig returns sensible defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		Protocol:    ProtocolGRPC,
		Endpoint:    "localhost:4317",
		ServiceName: "unillm",
		SampleRate:  1.0,
		Insecure:    true,
	}
}

// TracerProvider owns the SDK provider when tracing is enabled. It is not
// installed globally; callers pass Tracer() to the client.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing builds an OTLP exporter and tracer provider. When
// tracing is disabled it returns a no-op tracer.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(TracerName)}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

// newResource layers the service name over the SDK defaults. The service
// attributes carry no schema URL so the merge follows whatever schema the
// SDK default resource uses.
func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Protocol {
	case ProtocolGRPC, "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	case ProtocolHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown OTLP protocol %q (want grpc or http)", cfg.Protocol)
	}
}

// Tracer returns the tracer instance.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Shutdown flushes and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// StartBatchSpan starts the span covering one dispatch call.
func StartBatchSpan(ctx context.Context, tracer trace.Tracer, backend, model string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "unillm.batch",
		trace.WithAttributes(
			attribute.String("gen_ai.system", backend),
			attribute.String("gen_ai.request.model", model),
			attribute.Int("unillm.batch.size", size),
		),
	)
}

// StartItemSpan starts the span covering one batch item.
func StartItemSpan(ctx context.Context, tracer trace.Tracer, index int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "unillm.item",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("unillm.item.index", index)),
	)
}

// RecordOutput records response attributes on a span.
func RecordOutput(span trace.Span, inputTokens, outputTokens int, finishReason string, cached bool) {
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int("gen_ai.usage.output_tokens", outputTokens),
		attribute.String("gen_ai.response.finish_reason", finishReason),
		attribute.Bool("unillm.cache_hit", cached),
	)
}

// RecordError marks a span as failed.
func RecordError(span trace.Span, err error, kind string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	span.SetAttributes(attribute.String("error.type", kind))
}
