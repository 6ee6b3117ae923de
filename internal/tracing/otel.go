package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ProviderConfig describes the service reported on every span
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64 // fraction of root traces kept; <= 0 or > 1 keeps all
	Options        []sdktrace.TracerProviderOption
}

var (
	setupOnce sync.Once
	setupErr  error

	mu       sync.RWMutex
	provider *sdktrace.TracerProvider
)

// InitOpenTelemetry installs the process tracer provider. Only the first
// call has an effect; later calls return the first call's error.
func InitOpenTelemetry(cfg ProviderConfig) error {
	setupOnce.Do(func() {
		if cfg.ServiceName == "" {
			setupErr = fmt.Errorf("service name is required")
			return
		}

		attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
		if cfg.ServiceVersion != "" {
			attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
		}
		res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
		if err != nil {
			setupErr = fmt.Errorf("failed to build trace resource: %w", err)
			return
		}

		ratio := cfg.SampleRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}
		opts := append([]sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			sdktrace.WithResource(res),
		}, cfg.Options...)
		tp := sdktrace.NewTracerProvider(opts...)

		mu.Lock()
		provider = tp
		mu.Unlock()
		otel.SetTracerProvider(tp)
	})

	return setupErr
}

// ShutdownOpenTelemetry flushes pending spans. A no-op before init.
func ShutdownOpenTelemetry(ctx context.Context) error {
	mu.RLock()
	tp := provider
	mu.RUnlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span on the named tracer and copies its trace id
// into ctx so log lines carry it.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); sc.IsValid() && GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}

// RecordError marks span as failed with err
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
