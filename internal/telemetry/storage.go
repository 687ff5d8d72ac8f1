package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

const storageComponent = "storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in pf.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner       storage.Storage
	tracer      trace.Tracer
	ops         metric.Int64Counter
	dur         metric.Float64Histogram
	errs        metric.Int64Counter
	txRollbacks metric.Int64Counter
}

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	return newInstrumented(s)
}

func newInstrumented(s storage.Storage) *InstrumentedStorage {
	m := Meter(storageComponent)
	ops, _ := m.Int64Counter("pf.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("pf.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("pf.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	rollbacks, _ := m.Int64Counter("pf.storage.transaction.rollbacks",
		metric.WithDescription("Transactions rolled back because the callback failed"),
	)
	return &InstrumentedStorage{
		inner:       s,
		tracer:      Tracer(storageComponent),
		ops:         ops,
		dur:         dur,
		errs:        errs,
		txRollbacks: rollbacks,
	}
}

// Unwrap returns the decorated store.
func (s *InstrumentedStorage) Unwrap() storage.Storage {
	return s.inner
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Printers ────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreatePrinter(ctx context.Context, p *types.Printer) error {
	ctx, span, t := s.op(ctx, "CreatePrinter")
	err := s.inner.CreatePrinter(ctx, p)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) GetPrinter(ctx context.Context, id string) (*types.Printer, error) {
	attrs := []attribute.KeyValue{attribute.String("pf.printer.id", id)}
	ctx, span, t := s.op(ctx, "GetPrinter", attrs...)
	v, err := s.inner.GetPrinter(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListPrinters(ctx context.Context) ([]*types.Printer, error) {
	ctx, span, t := s.op(ctx, "ListPrinters")
	v, err := s.inner.ListPrinters(ctx)
	span.SetAttributes(attribute.Int("pf.result.count", len(v)))
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) UpdatePrinter(ctx context.Context, p *types.Printer) error {
	attrs := []attribute.KeyValue{attribute.String("pf.printer.id", p.ID)}
	ctx, span, t := s.op(ctx, "UpdatePrinter", attrs...)
	err := s.inner.UpdatePrinter(ctx, p)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) DeletePrinter(ctx context.Context, id string) error {
	attrs := []attribute.KeyValue{attribute.String("pf.printer.id", id)}
	ctx, span, t := s.op(ctx, "DeletePrinter", attrs...)
	err := s.inner.DeletePrinter(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) SetPrinterStatus(ctx context.Context, id string, status types.PrinterStatus, printState string, at time.Time) error {
	attrs := []attribute.KeyValue{
		attribute.String("pf.printer.id", id),
		attribute.String("pf.printer.status", string(status)),
	}
	ctx, span, t := s.op(ctx, "SetPrinterStatus", attrs...)
	err := s.inner.SetPrinterStatus(ctx, id, status, printState, at)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Gcodes ──────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateGcode(ctx context.Context, g *types.Gcode) error {
	attrs := []attribute.KeyValue{attribute.String("pf.printer.id", g.PrinterID)}
	ctx, span, t := s.op(ctx, "CreateGcode", attrs...)
	err := s.inner.CreateGcode(ctx, g)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetGcode(ctx context.Context, id string) (*types.Gcode, error) {
	ctx, span, t := s.op(ctx, "GetGcode")
	v, err := s.inner.GetGcode(ctx, id)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) ListGcodes(ctx context.Context, filter types.GcodeFilter) ([]*types.Gcode, error) {
	ctx, span, t := s.op(ctx, "ListGcodes")
	v, err := s.inner.ListGcodes(ctx, filter)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) UpdateGcode(ctx context.Context, g *types.Gcode) error {
	attrs := []attribute.KeyValue{attribute.String("pf.gcode.id", g.ID)}
	ctx, span, t := s.op(ctx, "UpdateGcode", attrs...)
	err := s.inner.UpdateGcode(ctx, g)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) DeleteGcode(ctx context.Context, id string) error {
	ctx, span, t := s.op(ctx, "DeleteGcode")
	err := s.inner.DeleteGcode(ctx, id)
	s.done(ctx, span, t, err)
	return err
}

// ── Products and components ─────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateProduct(ctx context.Context, p *types.Product) error {
	ctx, span, t := s.op(ctx, "CreateProduct")
	err := s.inner.CreateProduct(ctx, p)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	attrs := []attribute.KeyValue{attribute.String("pf.product.id", id)}
	ctx, span, t := s.op(ctx, "GetProduct", attrs...)
	v, err := s.inner.GetProduct(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListProducts(ctx context.Context) ([]*types.Product, error) {
	ctx, span, t := s.op(ctx, "ListProducts")
	v, err := s.inner.ListProducts(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) DeleteProduct(ctx context.Context, id string) error {
	attrs := []attribute.KeyValue{attribute.String("pf.product.id", id)}
	ctx, span, t := s.op(ctx, "DeleteProduct", attrs...)
	err := s.inner.DeleteProduct(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) CreateComponent(ctx context.Context, c *types.Component) error {
	attrs := []attribute.KeyValue{attribute.String("pf.product.id", c.ProductID)}
	ctx, span, t := s.op(ctx, "CreateComponent", attrs...)
	err := s.inner.CreateComponent(ctx, c)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetComponent(ctx context.Context, id string) (*types.Component, error) {
	ctx, span, t := s.op(ctx, "GetComponent")
	v, err := s.inner.GetComponent(ctx, id)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) ListComponents(ctx context.Context, productID string) ([]*types.Component, error) {
	attrs := []attribute.KeyValue{attribute.String("pf.product.id", productID)}
	ctx, span, t := s.op(ctx, "ListComponents", attrs...)
	v, err := s.inner.ListComponents(ctx, productID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) DeleteComponent(ctx context.Context, id string) error {
	ctx, span, t := s.op(ctx, "DeleteComponent")
	err := s.inner.DeleteComponent(ctx, id)
	s.done(ctx, span, t, err)
	return err
}

// ── Schedule entries ────────────────────────────────────────────────────────

func (s *InstrumentedStorage) GetEntry(ctx context.Context, id string) (*types.ScheduleEntry, error) {
	ctx, span, t := s.op(ctx, "GetEntry")
	v, err := s.inner.GetEntry(ctx, id)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) ListEntries(ctx context.Context, filter types.EntryFilter) ([]*types.ScheduleEntry, error) {
	attrs := []attribute.KeyValue{
		attribute.String("pf.printer.id", filter.PrinterID),
		attribute.String("pf.product.id", filter.ProductID),
	}
	ctx, span, t := s.op(ctx, "ListEntries", attrs...)
	v, err := s.inner.ListEntries(ctx, filter)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) UpdateEntryStatus(ctx context.Context, id string, status types.EntryStatus) (*types.ScheduleEntry, error) {
	attrs := []attribute.KeyValue{attribute.String("pf.entry.status", string(status))}
	ctx, span, t := s.op(ctx, "UpdateEntryStatus", attrs...)
	v, err := s.inner.UpdateEntryStatus(ctx, id, status)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// RunInTransaction spans the whole transaction; operations on tx are not
// traced individually.
func (s *InstrumentedStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	ctx, span, t := s.op(ctx, "RunInTransaction")
	err := s.inner.RunInTransaction(ctx, fn)
	if err != nil {
		s.txRollbacks.Add(ctx, 1)
	}
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
