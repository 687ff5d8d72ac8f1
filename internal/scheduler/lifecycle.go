package scheduler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

// Moonraker print_stats.state values that drive entry transitions.
const (
	PrintStatePrinting  = "printing"
	PrintStateComplete  = "complete"
	PrintStateError     = "error"
	PrintStateCancelled = "cancelled"
)

// AdvanceForPrintState applies the entry transition implied by a printer
// reporting state at now. It returns the updated entry, or nil when the state
// moves nothing:
//
//	printing   earliest started scheduled entry -> in-progress
//	complete   in-progress entry -> completed, time since it started recorded on the gcode
//	error      in-progress entry -> failed
//	cancelled  in-progress entry -> failed
func AdvanceForPrintState(ctx context.Context, store storage.Storage, printerID, state string, now time.Time) (*types.ScheduleEntry, error) {
	var out *types.ScheduleEntry
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		out = nil
		switch state {
		case PrintStatePrinting:
			running, err := tx.ListEntries(ctx, types.EntryFilter{PrinterID: printerID, Statuses: []types.EntryStatus{types.EntryInProgress}})
			if err != nil {
				return err
			}
			if len(running) > 0 {
				return nil
			}
			queued, err := tx.ListEntries(ctx, types.EntryFilter{PrinterID: printerID, Statuses: []types.EntryStatus{types.EntryScheduled}})
			if err != nil {
				return err
			}
			slices.SortFunc(queued, storage.OrderEntries)
			if len(queued) == 0 || queued[0].Start.After(now) {
				return nil
			}
			out, err = tx.UpdateEntryStatus(ctx, queued[0].ID, types.EntryInProgress)
			return err

		case PrintStateComplete, PrintStateError, PrintStateCancelled:
			running, err := tx.ListEntries(ctx, types.EntryFilter{PrinterID: printerID, Statuses: []types.EntryStatus{types.EntryInProgress}})
			if err != nil || len(running) == 0 {
				return err
			}
			e := running[0]
			// UpdatedAt is the in-progress transition; it never precedes Start.
			started := e.Start
			if e.UpdatedAt.After(started) {
				started = e.UpdatedAt
			}
			next := types.EntryFailed
			if state == PrintStateComplete {
				next = types.EntryCompleted
			}
			if out, err = tx.UpdateEntryStatus(ctx, e.ID, next); err != nil {
				return err
			}
			if next == types.EntryCompleted {
				if took := now.Sub(started).Round(time.Second); took >= types.MinGcodeDuration {
					if err := tx.RecordGcodeDuration(ctx, e.GcodeID, took); err != nil {
						return fmt.Errorf("record duration: %w", err)
					}
				}
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advance entries on printer %s: %w", printerID, err)
	}
	return out, nil
}
