package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

// ResourceLocks serialises commits per printer inside one process. Locks are
// always taken in sorted ID order so two commits cannot deadlock.
type ResourceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewResourceLocks returns an empty lock set.
func NewResourceLocks() *ResourceLocks {
	return &ResourceLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the locks for ids and returns the function releasing them.
func (l *ResourceLocks) Lock(ids []string) (unlock func()) {
	ids = uniqueSorted(ids)
	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		l.mu.Lock()
		m, ok := l.locks[id]
		if !ok {
			m = &sync.Mutex{}
			l.locks[id] = m
		}
		l.mu.Unlock()
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func uniqueSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// retractable are the entry states a new schedule replaces.
var retractable = []types.EntryStatus{types.EntryPending, types.EntryScheduled, types.EntryFailed}

// Materialize writes one scheduled entry per component in a single
// transaction. comps and plan are parallel. Previous retractable entries of
// the same components are deleted first. If any new entry overlaps an active
// entry of another component, nothing is written and a *ConflictError is
// returned.
func Materialize(ctx context.Context, store storage.Storage, locks *ResourceLocks, product *types.Product, comps []*types.Component, plan []Candidate) ([]*types.ScheduleEntry, error) {
	if len(comps) != len(plan) {
		return nil, fmt.Errorf("materialize: %d components but %d placements", len(comps), len(plan))
	}
	printerIDs := make([]string, 0, len(plan))
	compIDs := make([]string, 0, len(comps))
	mine := make(map[string]bool, len(comps))
	for i, c := range comps {
		printerIDs = append(printerIDs, plan[i].PrinterID)
		compIDs = append(compIDs, c.ID)
		mine[c.ID] = true
	}
	printerIDs = uniqueSorted(printerIDs)

	if locks != nil {
		unlock := locks.Lock(printerIDs)
		defer unlock()
	}

	var created []*types.ScheduleEntry
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		created = nil
		if err := tx.LockPrinters(ctx, printerIDs); err != nil {
			return fmt.Errorf("lock printers: %w", err)
		}

		prior, err := tx.ListEntries(ctx, types.EntryFilter{ComponentIDs: compIDs})
		if err != nil {
			return fmt.Errorf("load prior entries: %w", err)
		}
		var stale []string
		for _, e := range prior {
			if !retractableStatus(e.Status) {
				// Started or finished since the catalog snapshot was taken.
				return &ConflictError{PrinterID: e.PrinterID, EntryID: e.ID}
			}
			stale = append(stale, e.ID)
		}
		if err := tx.DeleteEntries(ctx, stale); err != nil {
			return fmt.Errorf("retract prior entries: %w", err)
		}

		for _, pid := range printerIDs {
			active, err := tx.ListEntries(ctx, types.EntryFilter{PrinterID: pid, Statuses: storage.ActiveStatuses})
			if err != nil {
				return fmt.Errorf("load entries for printer %s: %w", pid, err)
			}
			for _, e := range active {
				if mine[e.ComponentID] {
					continue
				}
				for _, c := range plan {
					if c.PrinterID == pid && e.Overlaps(c.Start, c.Finish) {
						return &ConflictError{PrinterID: pid, EntryID: e.ID}
					}
				}
			}
		}

		for i, c := range comps {
			e := &types.ScheduleEntry{
				ComponentID: c.ID,
				ProductID:   product.ID,
				PrinterID:   plan[i].PrinterID,
				GcodeID:     plan[i].GcodeID,
				Start:       plan[i].Start,
				Finish:      plan[i].Finish,
				Deadline:    product.DueDate,
				Status:      types.EntryScheduled,
			}
			if err := tx.CreateEntry(ctx, e); err != nil {
				return fmt.Errorf("create entry for component %s: %w", c.ID, err)
			}
			created = append(created, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(created, func(i, j int) bool { return storage.OrderEntries(created[i], created[j]) < 0 })
	return created, nil
}

// retractableStatus reports whether an entry in s may be replaced.
func retractableStatus(s types.EntryStatus) bool {
	for _, r := range retractable {
		if s == r {
			return true
		}
	}
	return false
}
