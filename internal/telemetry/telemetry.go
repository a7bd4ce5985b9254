// Package telemetry wires the optional OpenTelemetry pipeline: a
// stderr trace exporter and a periodic stderr metric reader, both
// installed as the process-global providers.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// metricInterval is how often the periodic reader flushes to stderr.
const metricInterval = 30 * time.Second

// Setup installs stderr-exporting tracer and meter providers as the
// OTel globals and registers runtime gauges. It returns a shutdown
// function that flushes both providers. When enabled is false it
// installs nothing and the shutdown function is a no-op.
//
// Everything writes to stderr: stdout belongs to the protocol stream
// when the server runs in MCP stdio mode.
func Setup(ctx context.Context, enabled bool, version string, logger *slog.Logger) (func(context.Context) error, error) {
	return setup(ctx, enabled, version, logger, os.Stderr)
}

func setup(ctx context.Context, enabled bool, version string, logger *slog.Logger, w io.Writer) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !enabled {
		logger.Debug("telemetry disabled")
		return func(context.Context) error { return nil }, nil
	}

	// Schemaless so the merge never conflicts with the SDK's own
	// resource schema version.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceNameKey.String("toolchest"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building telemetry resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// W3C Trace Context and Baggage propagation.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(w)))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(metricInterval))),
	)
	otel.SetMeterProvider(mp)

	if err := registerRuntimeGauges(mp); err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("registering runtime gauges: %w", err)
	}

	logger.Info("telemetry enabled", "exporter", "stderr", "metric_interval", metricInterval)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// registerRuntimeGauges reports goroutine count and heap usage on every
// reader cycle.
func registerRuntimeGauges(mp *sdkmetric.MeterProvider) error {
	meter := mp.Meter("toolchest/runtime")

	goroutines, err := meter.Int64ObservableGauge("process.goroutines",
		metric.WithDescription("Number of live goroutines."))
	if err != nil {
		return err
	}

	heap, err := meter.Int64ObservableGauge("process.heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects."),
		metric.WithUnit("By"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		o.ObserveInt64(goroutines, int64(runtime.NumGoroutine()))
		o.ObserveInt64(heap, int64(ms.HeapAlloc))
		return nil
	}, goroutines, heap)
	return err
}
