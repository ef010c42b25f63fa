// Package tracing wraps OpenTelemetry span creation for the connection
// lifecycle (handshake, data transfer, teardown), exporting to stdout so a
// standalone CLI has no external collector dependency.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls how the tracer provider is built.
type Config struct {
	// ServiceName identifies this binary (flowsend or flowrecv) in spans.
	ServiceName string

	// Enabled turns tracing on; when false, Tracer returns a no-op tracer
	// so call sites never need to branch on whether tracing is active.
	Enabled bool

	// Writer receives the exported spans as JSON lines. Defaults to
	// io.Discard if nil.
	Writer io.Writer
}

// Tracer owns the provider and exposes the trace.Tracer used to start
// spans, plus Shutdown to flush on exit.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds a tracer per cfg. When tracing is disabled it still returns a
// usable Tracer backed by the global no-op implementation.
func New(cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	writer := cfg.Writer
	if writer == nil {
		writer = io.Discard
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}, nil
}

// StartHandshake opens a span covering the three-way handshake.
func (t *Tracer) StartHandshake(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "handshake")
}

// StartTransfer opens a span covering steady-state data transfer.
func (t *Tracer) StartTransfer(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "data-transfer")
}

// StartTeardown opens a span covering connection teardown.
func (t *Tracer) StartTeardown(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "teardown")
}

// Shutdown flushes any buffered spans. It is a no-op when tracing is
// disabled.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
