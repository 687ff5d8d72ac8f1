package statusfeed

import (
	"context"
	"fmt"
	"log"

	"github.com/printfleet/printfleet/internal/scheduler"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

// Persist writes registry events to the store until ctx is cancelled or the
// registry is closed: printer status for every event, plus the schedule
// entry transition each print state implies. Storage failures are logged and
// do not stop the loop.
func Persist(ctx context.Context, reg *Registry, store storage.Storage) {
	events, unsubscribe := reg.Subscribe(0)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			apply(ctx, store, ev)
		}
	}
}

func apply(ctx context.Context, store storage.Storage, ev Event) {
	e, err := Record(ctx, store, ev.State)
	if err != nil {
		log.Printf("[statusfeed] %v", err)
		return
	}
	if e != nil {
		log.Printf("[statusfeed] entry %s on %s is now %s", e.ID, ev.State.PrinterID, e.Status)
	}
}

// Record writes one observation to the store: the printer's status, then
// the entry transition its print state implies. The advanced entry, if any,
// is returned.
func Record(ctx context.Context, store storage.Storage, st PrinterState) (*types.ScheduleEntry, error) {
	status := types.PrinterOffline
	if st.Online {
		status = types.PrinterOnline
	}
	if err := store.SetPrinterStatus(ctx, st.PrinterID, status, st.PrintState, st.UpdatedAt); err != nil {
		return nil, fmt.Errorf("persist status for %s: %w", st.PrinterID, err)
	}
	if !st.Online || st.PrintState == "" {
		return nil, nil
	}
	return scheduler.AdvanceForPrintState(ctx, store, st.PrinterID, st.PrintState, st.UpdatedAt)
}
