// Package telemetry wires printfleet's spans and metrics into OpenTelemetry.
//
// Nothing is exported unless PF_OTEL_ENABLED=true; otherwise the global
// providers are no-ops and WrapStorage returns stores untouched.
//
//	PF_OTEL_ENABLED=true       turn telemetry on
//	PF_OTEL_STDOUT=true        dump spans and metrics to stderr
//	PF_OTEL_INTERVAL=30s       metric export interval
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT, OTEL_EXPORTER_OTLP_ENDPOINT
//	                           OTLP/HTTP metrics target, host:port or URL
//
// Instruments live under the pf.* namespace: pf.schedule.* and pf.solver.*
// for the scheduler (see SchedulerMetrics), pf.storage.* for the store.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	scopeRoot = "github.com/printfleet/printfleet"

	defaultInterval = 30 * time.Second
)

// settings is the environment-driven telemetry configuration.
type settings struct {
	enabled  bool
	stdout   bool
	endpoint string
	interval time.Duration
}

func readSettings() settings {
	s := settings{
		enabled:  os.Getenv("PF_OTEL_ENABLED") == "true",
		stdout:   os.Getenv("PF_OTEL_STDOUT") == "true",
		interval: defaultInterval,
	}
	s.endpoint = os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if s.endpoint == "" {
		s.endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if d, err := time.ParseDuration(os.Getenv("PF_OTEL_INTERVAL")); err == nil && d > 0 {
		s.interval = d
	}
	return s
}

var (
	mu        sync.Mutex
	shutdowns []func(context.Context) error
)

// Enabled reports whether PF_OTEL_ENABLED is "true".
func Enabled() bool {
	return readSettings().enabled
}

// Init installs the global tracer and meter providers for the pf process.
// Disabled telemetry installs no-op providers.
func Init(ctx context.Context, service, version string) error {
	cfg := readSettings()
	if !cfg.enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	readers, err := metricReaders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mopts = append(mopts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mopts...)

	topts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			_ = mp.Shutdown(ctx)
			return fmt.Errorf("telemetry: stdout spans: %w", err)
		}
		topts = append(topts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(topts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	mu.Lock()
	shutdowns = append(shutdowns, tp.Shutdown, mp.Shutdown)
	mu.Unlock()
	return nil
}

// metricReaders returns one periodic reader per configured exporter.
func metricReaders(ctx context.Context, cfg settings) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader
	if cfg.stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("stdout metrics: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.interval)))
	}
	if cfg.endpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, cfg.endpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metrics: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.interval)))
	}
	return readers, nil
}

// Tracer returns the tracer for a pf component, e.g. "storage".
func Tracer(component string) trace.Tracer {
	return otel.Tracer(scope(component))
}

// Meter returns the meter for a pf component, e.g. "scheduler".
func Meter(component string) metric.Meter {
	return otel.Meter(scope(component))
}

func scope(component string) string {
	if component == "" {
		return scopeRoot
	}
	return scopeRoot + "/" + component
}

// Shutdown flushes pending spans and metrics. It runs once per Init; later
// calls are no-ops.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	fns := shutdowns
	shutdowns = nil
	mu.Unlock()
	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
