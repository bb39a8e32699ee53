// Package telemetry wires OpenTelemetry tracing around kernel operations,
// grounded on gomind's core.Telemetry/core.Span interfaces and its
// telemetry/otel.go provider setup. Spans are cheap no-ops when telemetry
// is disabled so the kernel never pays for what it doesn't use.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Span is the minimal span interface components depend on, matching
// gomind's core.Span (End, RecordError, SetAttribute).
type Span interface {
	End()
	RecordError(err error)
	SetAttribute(key string, value interface{})
}

// Telemetry starts spans and records free-standing metrics. Grounded on
// gomind's core.Telemetry interface.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
	Shutdown(ctx context.Context) error
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }
func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}
func (s *otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(toAttribute(key, value))
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// Provider is the production Telemetry implementation: an OTel tracer
// backed by a stdout span exporter, matching gomind's OTelProvider
// shape but scoped to the simulation kernel's own resource attributes.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds a Provider for serviceName. It always exports to
// stdout: nothing in this kernel talks to a remote collector by default,
// matching the dropped-dependency note in the domain-stack design.
func NewProvider(ctx context.Context, serviceName string) (*Provider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating stdout exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp, tracer: tp.Tracer(serviceName)}, nil
}

func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric is a placeholder hook; the kernel's quantitative metrics
// are exposed through pkg/metrics' Prometheus registry rather than OTel
// metrics, so this simply satisfies the interface for callers that treat
// telemetry and metrics uniformly.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// NoOp is a Telemetry that does nothing, used when telemetry is disabled.
type NoOp struct{}

type noOpSpan struct{}

func (noOpSpan) End()                            {}
func (noOpSpan) RecordError(error)               {}
func (noOpSpan) SetAttribute(string, interface{}) {}

func (NoOp) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noOpSpan{}
}
func (NoOp) RecordMetric(string, float64, map[string]string) {}
func (NoOp) Shutdown(context.Context) error                  { return nil }
