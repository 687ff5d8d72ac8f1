// Package memory is an in-process storage backend. Transactions work on a
// copy of the schedule and are swapped in on success, so a failed
// transaction leaves no trace.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/printfleet/printfleet/internal/idgen"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

// MemoryStorage implements storage.Storage in memory.
type MemoryStorage struct {
	mu         sync.RWMutex
	printers   map[string]*types.Printer
	gcodes     map[string]*types.Gcode
	products   map[string]*types.Product
	components map[string]*types.Component
	entries    map[string]*types.ScheduleEntry
	closed     bool
	now        func() time.Time

	// failCreateAfter makes the n-th CreateEntry of a transaction fail. Tests
	// use it to exercise rollback.
	failCreateAfter int
}

var _ storage.Storage = (*MemoryStorage)(nil)

// New creates an empty store.
func New() *MemoryStorage {
	return &MemoryStorage{
		printers:   make(map[string]*types.Printer),
		gcodes:     make(map[string]*types.Gcode),
		products:   make(map[string]*types.Product),
		components: make(map[string]*types.Component),
		entries:    make(map[string]*types.ScheduleEntry),
		now:        time.Now,
	}
}

// SetClock overrides the timestamp source.
func (m *MemoryStorage) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailCreateEntryAfter makes CreateEntry fail once n entries have been
// written in a transaction. Zero disables the fault.
func (m *MemoryStorage) FailCreateEntryAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreateAfter = n
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStorage) rlock() error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return storage.ErrClosed
	}
	return nil
}

func (m *MemoryStorage) lock() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return storage.ErrClosed
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
}

// ── Printers ────────────────────────────────────────────────────────────────

func copyPrinter(p *types.Printer) *types.Printer {
	c := *p
	c.Materials = slices.Clone(p.Materials)
	if p.Window != nil {
		w := *p.Window
		c.Window = &w
	}
	if p.StatusUpdatedAt != nil {
		t := *p.StatusUpdatedAt
		c.StatusUpdatedAt = &t
	}
	return &c
}

func (m *MemoryStorage) CreatePrinter(ctx context.Context, p *types.Printer) error {
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return invalid(err)
	}
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = idgen.New(idgen.PrefixPrinter, 0)
	}
	if _, ok := m.printers[p.ID]; ok {
		return fmt.Errorf("printer %s: %w", p.ID, storage.ErrConflict)
	}
	now := m.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.printers[p.ID] = copyPrinter(p)
	return nil
}

func (m *MemoryStorage) GetPrinter(ctx context.Context, id string) (*types.Printer, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	p, ok := m.printers[id]
	if !ok {
		return nil, notFound("printer", id)
	}
	return copyPrinter(p), nil
}

func (m *MemoryStorage) ListPrinters(ctx context.Context) ([]*types.Printer, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	out := make([]*types.Printer, 0, len(m.printers))
	for _, p := range m.printers {
		out = append(out, copyPrinter(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) UpdatePrinter(ctx context.Context, p *types.Printer) error {
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return invalid(err)
	}
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	cur, ok := m.printers[p.ID]
	if !ok {
		return notFound("printer", p.ID)
	}
	next := copyPrinter(p)
	next.Status, next.PrintState, next.StatusUpdatedAt = cur.Status, cur.PrintState, cur.StatusUpdatedAt
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = m.now().UTC()
	p.UpdatedAt = next.UpdatedAt
	m.printers[p.ID] = next
	return nil
}

func (m *MemoryStorage) DeletePrinter(ctx context.Context, id string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if _, ok := m.printers[id]; !ok {
		return notFound("printer", id)
	}
	if n := m.countActive(func(e *types.ScheduleEntry) bool { return e.PrinterID == id }); n > 0 {
		return fmt.Errorf("printer %s has %d active schedule entries: %w", id, n, storage.ErrConflict)
	}
	for gid, g := range m.gcodes {
		if g.PrinterID == id {
			m.dropGcode(gid)
		}
	}
	delete(m.printers, id)
	return nil
}

func (m *MemoryStorage) SetPrinterStatus(ctx context.Context, id string, status types.PrinterStatus, printState string, at time.Time) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: printer status %q", storage.ErrInvalid, status)
	}
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	p, ok := m.printers[id]
	if !ok {
		return notFound("printer", id)
	}
	at = at.UTC()
	p.Status, p.PrintState, p.StatusUpdatedAt = status, printState, &at
	return nil
}

func (m *MemoryStorage) countActive(match func(*types.ScheduleEntry) bool) int {
	n := 0
	for _, e := range m.entries {
		if e.Status.IsActive() && match(e) {
			n++
		}
	}
	return n
}

// ── Gcodes ──────────────────────────────────────────────────────────────────

func copyGcode(g *types.Gcode) *types.Gcode {
	c := *g
	if g.HistoricalDuration != nil {
		d := *g.HistoricalDuration
		c.HistoricalDuration = &d
	}
	return &c
}

func (m *MemoryStorage) CreateGcode(ctx context.Context, g *types.Gcode) error {
	if err := g.Validate(); err != nil {
		return invalid(err)
	}
	g.Material = types.NormalizeMaterial(g.Material)
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	p, ok := m.printers[g.PrinterID]
	if !ok {
		return notFound("printer", g.PrinterID)
	}
	if !p.Supports(g.Material) {
		return fmt.Errorf("%w: printer %s does not support material %s (supports %s)",
			storage.ErrInvalid, p.ID, g.Material, strings.Join(p.Materials, ","))
	}
	if g.ID == "" {
		g.ID = idgen.New(idgen.PrefixGcode, 0)
	}
	if _, ok := m.gcodes[g.ID]; ok {
		return fmt.Errorf("gcode %s: %w", g.ID, storage.ErrConflict)
	}
	g.CreatedAt = m.now().UTC()
	m.gcodes[g.ID] = copyGcode(g)
	return nil
}

func (m *MemoryStorage) GetGcode(ctx context.Context, id string) (*types.Gcode, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	g, ok := m.gcodes[id]
	if !ok {
		return nil, notFound("gcode", id)
	}
	return copyGcode(g), nil
}

func (m *MemoryStorage) ListGcodes(ctx context.Context, filter types.GcodeFilter) ([]*types.Gcode, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	material := types.NormalizeMaterial(filter.Material)
	var out []*types.Gcode
	for _, g := range m.gcodes {
		if filter.PrinterID != "" && g.PrinterID != filter.PrinterID {
			continue
		}
		if material != "" && g.Material != material {
			continue
		}
		out = append(out, copyGcode(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PrinterID != out[j].PrinterID {
			return out[i].PrinterID < out[j].PrinterID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStorage) UpdateGcode(ctx context.Context, g *types.Gcode) error {
	if err := g.Validate(); err != nil {
		return invalid(err)
	}
	g.Material = types.NormalizeMaterial(g.Material)
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	cur, ok := m.gcodes[g.ID]
	if !ok {
		return notFound("gcode", g.ID)
	}
	if cur.PrinterID != g.PrinterID {
		return fmt.Errorf("%w: gcode %s belongs to printer %s", storage.ErrInvalid, g.ID, cur.PrinterID)
	}
	p, ok := m.printers[g.PrinterID]
	if !ok {
		return notFound("printer", g.PrinterID)
	}
	if !p.Supports(g.Material) {
		return fmt.Errorf("%w: printer %s does not support material %s (supports %s)",
			storage.ErrInvalid, p.ID, g.Material, strings.Join(p.Materials, ","))
	}
	g.CreatedAt = cur.CreatedAt
	m.gcodes[g.ID] = copyGcode(g)
	return nil
}

func (m *MemoryStorage) DeleteGcode(ctx context.Context, id string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if _, ok := m.gcodes[id]; !ok {
		return notFound("gcode", id)
	}
	if n := m.countActive(func(e *types.ScheduleEntry) bool { return e.GcodeID == id }); n > 0 {
		return fmt.Errorf("gcode %s has %d active schedule entries: %w", id, n, storage.ErrConflict)
	}
	m.dropGcode(id)
	return nil
}

func (m *MemoryStorage) dropGcode(id string) {
	delete(m.gcodes, id)
	for _, c := range m.components {
		c.AllowedGcodes = slices.DeleteFunc(c.AllowedGcodes, func(g string) bool { return g == id })
	}
}

// ── Products and components ─────────────────────────────────────────────────

func (m *MemoryStorage) CreateProduct(ctx context.Context, p *types.Product) error {
	if err := p.Validate(); err != nil {
		return invalid(err)
	}
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = idgen.New(idgen.PrefixProduct, 0)
	}
	if _, ok := m.products[p.ID]; ok {
		return fmt.Errorf("product %s: %w", p.ID, storage.ErrConflict)
	}
	p.DueDate = p.DueDate.UTC()
	p.CreatedAt = m.now().UTC()
	c := *p
	m.products[p.ID] = &c
	return nil
}

func (m *MemoryStorage) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	c := *p
	return &c, nil
}

func (m *MemoryStorage) ListProducts(ctx context.Context) ([]*types.Product, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	out := make([]*types.Product, 0, len(m.products))
	for _, p := range m.products {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStorage) DeleteProduct(ctx context.Context, id string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return notFound("product", id)
	}
	for _, e := range m.entries {
		if e.ProductID == id && e.Status == types.EntryInProgress {
			return fmt.Errorf("product %s has prints in progress: %w", id, storage.ErrConflict)
		}
	}
	for eid, e := range m.entries {
		if e.ProductID == id {
			delete(m.entries, eid)
		}
	}
	for cid, c := range m.components {
		if c.ProductID == id {
			delete(m.components, cid)
		}
	}
	delete(m.products, id)
	return nil
}

func copyComponent(c *types.Component) *types.Component {
	out := *c
	out.AllowedGcodes = slices.Clone(c.AllowedGcodes)
	return &out
}

func (m *MemoryStorage) CreateComponent(ctx context.Context, c *types.Component) error {
	if err := c.Validate(); err != nil {
		return invalid(err)
	}
	c.Material = types.NormalizeMaterial(c.Material)
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if _, ok := m.products[c.ProductID]; !ok {
		return notFound("product", c.ProductID)
	}
	for _, gid := range c.AllowedGcodes {
		if _, ok := m.gcodes[gid]; !ok {
			return notFound("gcode", gid)
		}
	}
	if c.ID == "" {
		c.ID = idgen.New(idgen.PrefixComponent, 0)
	}
	if _, ok := m.components[c.ID]; ok {
		return fmt.Errorf("component %s: %w", c.ID, storage.ErrConflict)
	}
	maxSeq := 0
	for _, other := range m.components {
		if other.ProductID == c.ProductID && other.Seq > maxSeq {
			maxSeq = other.Seq
		}
	}
	c.Seq = maxSeq + 1
	c.AllowedGcodes = slices.Compact(sortedCopy(c.AllowedGcodes))
	c.CreatedAt = m.now().UTC()
	m.components[c.ID] = copyComponent(c)
	return nil
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}

func (m *MemoryStorage) GetComponent(ctx context.Context, id string) (*types.Component, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	c, ok := m.components[id]
	if !ok {
		return nil, notFound("component", id)
	}
	return copyComponent(c), nil
}

func (m *MemoryStorage) ListComponents(ctx context.Context, productID string) ([]*types.Component, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	var out []*types.Component
	for _, c := range m.components {
		if c.ProductID == productID {
			out = append(out, copyComponent(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStorage) DeleteComponent(ctx context.Context, id string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if _, ok := m.components[id]; !ok {
		return notFound("component", id)
	}
	for eid, e := range m.entries {
		if e.ComponentID != id {
			continue
		}
		if e.Status == types.EntryInProgress {
			return fmt.Errorf("component %s is printing: %w", id, storage.ErrConflict)
		}
		delete(m.entries, eid)
	}
	delete(m.components, id)
	return nil
}

// ── Schedule entries ────────────────────────────────────────────────────────

func copyEntry(e *types.ScheduleEntry) *types.ScheduleEntry {
	c := *e
	return &c
}

func (m *MemoryStorage) GetEntry(ctx context.Context, id string) (*types.ScheduleEntry, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, notFound("entry", id)
	}
	return copyEntry(e), nil
}

func (m *MemoryStorage) ListEntries(ctx context.Context, filter types.EntryFilter) ([]*types.ScheduleEntry, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	return listEntries(m.entries, filter), nil
}

func listEntries(entries map[string]*types.ScheduleEntry, filter types.EntryFilter) []*types.ScheduleEntry {
	var out []*types.ScheduleEntry
	for _, e := range entries {
		if storage.MatchEntry(e, filter) {
			out = append(out, copyEntry(e))
		}
	}
	slices.SortFunc(out, storage.OrderEntries)
	return out
}

func (m *MemoryStorage) UpdateEntryStatus(ctx context.Context, id string, status types.EntryStatus) (*types.ScheduleEntry, error) {
	var out *types.ScheduleEntry
	err := m.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		out, err = tx.UpdateEntryStatus(ctx, id, status)
		return err
	})
	return out, err
}
