package observability

import (
	"context"
	"io"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fleetwatch"

var tracingEnabled atomic.Bool

// SetupTracing installs a global tracer provider writing spans to w when
// enable is true. The returned shutdown function flushes pending spans.
func SetupTracing(enable bool, w io.Writer) (func(context.Context) error, error) {
	tracingEnabled.Store(enable)
	if !enable {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan starts a span when tracing is enabled. The returned end function
// records err (if any) on the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	if !tracingEnabled.Load() {
		return ctx, func(error) {}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
