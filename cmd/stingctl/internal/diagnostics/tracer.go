// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diagnostics

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// -----------------------------------------------------------------------------
// DiagnosticsTracer Interface
// -----------------------------------------------------------------------------

// DiagnosticsTracer traces stack lifecycle operations. A startup run
// produces a span per phase and per tier; a reinstall produces one per
// saga step. When a run fails, the log line carries the trace ID so
// the run can be opened in Jaeger.
//
// Two implementations exist: NoOpDiagnosticsTracer generates valid IDs
// without exporting anything (the default for hosts without a
// collector), and OTelDiagnosticsTracer exports over OTLP/gRPC.
//
// Implementations are safe for concurrent use.
type DiagnosticsTracer interface {
	// StartSpan opens a span named after a lifecycle operation, for
	// example "stack.start" or "reinstall.step". The returned finish
	// function ends the span; pass the operation's error or nil.
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))

	// GetTraceID returns the 32-char hex trace ID of the span in ctx,
	// or "" when there is none.
	GetTraceID(ctx context.Context) string

	// GetSpanID returns the 16-char hex span ID of the span in ctx,
	// or "" when there is none.
	GetSpanID(ctx context.Context) string

	// GenerateTraceID creates a fresh W3C-format trace ID, for
	// correlating a run that has no parent trace.
	GenerateTraceID() string

	// GenerateSpanID creates a fresh W3C-format span ID.
	GenerateSpanID() string

	// Shutdown flushes pending spans. Call before exit.
	Shutdown(ctx context.Context) error
}

// newTraceID returns 16 random bytes as hex, falling back to a
// timestamp-based ID when the entropy read fails.
func newTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%016x%016x", time.Now().UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b)
}

func newSpanID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// No-op Implementation
// -----------------------------------------------------------------------------

// NoOpDiagnosticsTracer satisfies DiagnosticsTracer without a
// collector. It still generates real W3C-format IDs so log correlation
// works the same whether or not export is enabled.
type NoOpDiagnosticsTracer struct {
	serviceName string
}

type noOpTraceIDKey struct{}
type noOpSpanIDKey struct{}

var _ DiagnosticsTracer = (*NoOpDiagnosticsTracer)(nil)

// NewNoOpDiagnosticsTracer creates an offline tracer.
func NewNoOpDiagnosticsTracer(serviceName string) *NoOpDiagnosticsTracer {
	if serviceName == "" {
		serviceName = "stingctl"
	}
	return &NoOpDiagnosticsTracer{serviceName: serviceName}
}

// StartSpan stores fresh IDs in the context and discards the
// attributes. The finish function does nothing.
func (t *NoOpDiagnosticsTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	ctx = context.WithValue(ctx, noOpTraceIDKey{}, t.GenerateTraceID())
	ctx = context.WithValue(ctx, noOpSpanIDKey{}, t.GenerateSpanID())
	return ctx, func(error) {}
}

func (t *NoOpDiagnosticsTracer) GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(noOpTraceIDKey{}).(string); ok {
		return id
	}
	return ""
}

func (t *NoOpDiagnosticsTracer) GetSpanID(ctx context.Context) string {
	if id, ok := ctx.Value(noOpSpanIDKey{}).(string); ok {
		return id
	}
	return ""
}

func (t *NoOpDiagnosticsTracer) GenerateTraceID() string { return newTraceID() }

func (t *NoOpDiagnosticsTracer) GenerateSpanID() string { return newSpanID() }

func (t *NoOpDiagnosticsTracer) Shutdown(ctx context.Context) error { return nil }

// -----------------------------------------------------------------------------
// OTLP Implementation
// -----------------------------------------------------------------------------

// OTelDiagnosticsTracer exports lifecycle spans to an OTLP collector
// over gRPC, typically the Jaeger instance running inside the stack
// itself. Startup spans from before the collector tier is healthy are
// batched and land once it comes up.
type OTelDiagnosticsTracer struct {
	tracer      trace.Tracer
	provider    *sdktrace.TracerProvider
	serviceName string
}

var _ DiagnosticsTracer = (*OTelDiagnosticsTracer)(nil)

// OTelTracerConfig configures the exporting tracer.
type OTelTracerConfig struct {
	// ServiceName identifies this process in traces. Default "stingctl".
	ServiceName string

	// Endpoint is the OTLP/gRPC collector address. Default "localhost:4317".
	Endpoint string

	// Insecure disables TLS, which is the norm for an in-stack collector.
	Insecure bool
}

// NewOTelDiagnosticsTracer connects to the collector and installs the
// provider as the global OTel provider with W3C propagation.
func NewOTelDiagnosticsTracer(ctx context.Context, config OTelTracerConfig) (*OTelDiagnosticsTracer, error) {
	if config.ServiceName == "" {
		config.ServiceName = "stingctl"
	}
	if config.Endpoint == "" {
		config.Endpoint = "localhost:4317"
	}

	var dialOpts []grpc.DialOption
	if config.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(config.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			attribute.String("deployment.environment", getEnvironment()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &OTelDiagnosticsTracer{
		tracer:      provider.Tracer(config.ServiceName),
		provider:    provider,
		serviceName: config.ServiceName,
	}, nil
}

// StartSpan opens an exported span. Attributes arrive as strings since
// callers mostly pass service names, tier numbers, and phase labels.
func (t *OTelDiagnosticsTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}

	ctx, span := t.tracer.Start(ctx, name,
		trace.WithAttributes(otelAttrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	finish := func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	return ctx, finish
}

func (t *OTelDiagnosticsTracer) GetTraceID(ctx context.Context) string {
	traceID := trace.SpanFromContext(ctx).SpanContext().TraceID()
	if !traceID.IsValid() {
		return ""
	}
	return traceID.String()
}

func (t *OTelDiagnosticsTracer) GetSpanID(ctx context.Context) string {
	spanID := trace.SpanFromContext(ctx).SpanContext().SpanID()
	if !spanID.IsValid() {
		return ""
	}
	return spanID.String()
}

func (t *OTelDiagnosticsTracer) GenerateTraceID() string { return newTraceID() }

func (t *OTelDiagnosticsTracer) GenerateSpanID() string { return newSpanID() }

// Shutdown flushes batched spans to the collector.
func (t *OTelDiagnosticsTracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Factory
// -----------------------------------------------------------------------------

func getEnvironment() string {
	if env := os.Getenv("STING_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

// NewDefaultDiagnosticsTracer returns the exporting tracer when
// STING_OTEL_ENDPOINT or the standard OTEL_EXPORTER_OTLP_ENDPOINT is
// set, and the no-op tracer otherwise.
func NewDefaultDiagnosticsTracer(ctx context.Context, serviceName string) (DiagnosticsTracer, error) {
	endpoint := os.Getenv("STING_OTEL_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return NewNoOpDiagnosticsTracer(serviceName), nil
	}
	return NewOTelDiagnosticsTracer(ctx, OTelTracerConfig{
		ServiceName: serviceName,
		Endpoint:    endpoint,
		Insecure:    os.Getenv("OTEL_INSECURE") != "false",
	})
}
