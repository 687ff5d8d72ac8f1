package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/storage/memory"
	"github.com/printfleet/printfleet/internal/types"
)

func TestWrapStorageDisabled(t *testing.T) {
	t.Setenv("PF_OTEL_ENABLED", "")
	inner := memory.New()
	if got := WrapStorage(inner); got != storage.Storage(inner) {
		t.Errorf("WrapStorage with telemetry off should return the store unchanged, got %T", got)
	}
}

func TestWrapStorageEnabled(t *testing.T) {
	t.Setenv("PF_OTEL_ENABLED", "true")
	ctx := context.Background()
	if err := Init(ctx, "pf-test", "dev"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Shutdown(ctx)

	wrapped := WrapStorage(memory.New())
	is, ok := wrapped.(*InstrumentedStorage)
	if !ok {
		t.Fatalf("WrapStorage = %T, want *InstrumentedStorage", wrapped)
	}
	if is.Unwrap() == nil {
		t.Fatal("Unwrap returned nil")
	}

	p := &types.Printer{Name: "mk4", Materials: []string{"PLA"}}
	if err := wrapped.CreatePrinter(ctx, p); err != nil {
		t.Fatalf("CreatePrinter through wrapper: %v", err)
	}
	if _, err := wrapped.GetPrinter(ctx, p.ID); err != nil {
		t.Errorf("GetPrinter through wrapper: %v", err)
	}
	if _, err := wrapped.GetPrinter(ctx, "pr-none"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("errors must pass through unchanged, got %v", err)
	}

	boom := errors.New("boom")
	if err := wrapped.RunInTransaction(ctx, func(tx storage.Transaction) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("RunInTransaction err = %v", err)
	}
}

func TestReadSettings(t *testing.T) {
	t.Setenv("PF_OTEL_ENABLED", "true")
	t.Setenv("PF_OTEL_STDOUT", "")
	t.Setenv("PF_OTEL_INTERVAL", "5s")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	got := readSettings()
	want := settings{enabled: true, endpoint: "collector:4318", interval: 5 * time.Second}
	if got != want {
		t.Errorf("readSettings() = %+v, want %+v", got, want)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "http://mimir:4318/v1/metrics")
	t.Setenv("PF_OTEL_INTERVAL", "soon")
	got = readSettings()
	if got.endpoint != "http://mimir:4318/v1/metrics" {
		t.Errorf("metrics endpoint should win, got %q", got.endpoint)
	}
	if got.interval != defaultInterval {
		t.Errorf("bad interval should fall back to %v, got %v", defaultInterval, got.interval)
	}
}

func TestScope(t *testing.T) {
	if got := scope(""); got != "github.com/printfleet/printfleet" {
		t.Errorf("scope(\"\") = %q", got)
	}
	if got := scope("scheduler"); got != "github.com/printfleet/printfleet/scheduler" {
		t.Errorf("scope(scheduler) = %q", got)
	}
}

func TestSchedulerMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	m := NewSchedulerMetrics()
	m.Request(ctx, "scheduled", false, 1500*time.Microsecond)
	m.Request(ctx, OutcomeConflict, false, time.Millisecond)
	m.SolverNodes(ctx, 42)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != "github.com/printfleet/printfleet/scheduler" {
			t.Errorf("unexpected scope %q", sm.Scope.Name)
		}
		for _, mm := range sm.Metrics {
			found[mm.Name] = mm
		}
	}
	for _, name := range []string{"pf.schedule.requests", "pf.schedule.duration", "pf.solver.nodes"} {
		if _, ok := found[name]; !ok {
			t.Errorf("instrument %s not recorded", name)
		}
	}
	sum, ok := found["pf.schedule.requests"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("pf.schedule.requests data = %T", found["pf.schedule.requests"].Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("want one data point per outcome, got %d", len(sum.DataPoints))
	}
	hist, ok := found["pf.schedule.duration"].Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("pf.schedule.duration data = %T", found["pf.schedule.duration"].Data)
	}
	var total float64
	for _, dp := range hist.DataPoints {
		total += dp.Sum
	}
	if total != 2.5 {
		t.Errorf("duration sum = %v ms, want 2.5", total)
	}
}
