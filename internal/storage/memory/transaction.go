package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/printfleet/printfleet/internal/idgen"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

var errInjected = errors.New("injected entry write failure")

// memoryTx works on private copies of the entry table and gcode history.
// Nothing is visible to other callers until RunInTransaction commits.
type memoryTx struct {
	parent   *MemoryStorage
	entries  map[string]*types.ScheduleEntry
	history  map[string]time.Duration
	creates  int
	failAt   int
	printers map[string]*types.Printer
	now      time.Time
}

var _ storage.Transaction = (*memoryTx)(nil)

// RunInTransaction holds the store's write lock for the duration of fn, which
// serialises transactions the way BEGIN IMMEDIATE does for SQLite.
func (m *MemoryStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	tx := &memoryTx{
		parent:   m,
		entries:  maps.Clone(m.entries),
		history:  make(map[string]time.Duration),
		failAt:   m.failCreateAfter,
		printers: m.printers,
		now:      m.now().UTC(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.entries = tx.entries
	for id, d := range tx.history {
		if g, ok := m.gcodes[id]; ok {
			g.HistoricalDuration = &d
		}
	}
	return nil
}

func (t *memoryTx) LockPrinters(ctx context.Context, printerIDs []string) error {
	for _, id := range printerIDs {
		if _, ok := t.printers[id]; !ok {
			return notFound("printer", id)
		}
	}
	return nil
}

func (t *memoryTx) ListEntries(ctx context.Context, filter types.EntryFilter) ([]*types.ScheduleEntry, error) {
	return listEntries(t.entries, filter), nil
}

func (t *memoryTx) DeleteEntries(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(t.entries, id)
	}
	return nil
}

func (t *memoryTx) CreateEntry(ctx context.Context, e *types.ScheduleEntry) error {
	if err := e.Validate(); err != nil {
		return invalid(err)
	}
	if t.failAt > 0 && t.creates >= t.failAt {
		return errInjected
	}
	for _, other := range t.entries {
		if other.ComponentID == e.ComponentID {
			return fmt.Errorf("entry for component %s: %w", e.ComponentID, storage.ErrConflict)
		}
	}
	if e.ID == "" {
		e.ID = idgen.New(idgen.PrefixEntry, 0)
	}
	if _, ok := t.entries[e.ID]; ok {
		return fmt.Errorf("entry %s: %w", e.ID, storage.ErrConflict)
	}
	e.CreatedAt, e.UpdatedAt = t.now, t.now
	// New entries go into a fresh map value so the committed table is untouched
	t.entries[e.ID] = copyEntry(e)
	t.creates++
	return nil
}

func (t *memoryTx) UpdateEntryStatus(ctx context.Context, id string, status types.EntryStatus) (*types.ScheduleEntry, error) {
	cur, ok := t.entries[id]
	if !ok {
		return nil, notFound("entry", id)
	}
	if err := types.CheckTransition(cur.Status, status); err != nil {
		return nil, fmt.Errorf("entry %s: %w", id, err)
	}
	next := copyEntry(cur)
	next.Status = status
	next.UpdatedAt = t.now
	t.entries[id] = next
	return copyEntry(next), nil
}

func (t *memoryTx) RecordGcodeDuration(ctx context.Context, gcodeID string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: non-positive duration %s", storage.ErrInvalid, d)
	}
	if _, ok := t.parent.gcodes[gcodeID]; !ok {
		return notFound("gcode", gcodeID)
	}
	t.history[gcodeID] = d
	return nil
}
