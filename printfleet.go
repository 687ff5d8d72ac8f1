// Package printfleet provides a minimal public API for driving the scheduler
// from Go programs: open a store, fill the catalog, schedule products.
//
// The pf command is built on the same packages; anything it can do is
// reachable through the storage and scheduler types re-exported here.
package printfleet

import (
	"context"

	"github.com/printfleet/printfleet/internal/scheduler"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/storage/factory"
	"github.com/printfleet/printfleet/internal/storage/memory"
	"github.com/printfleet/printfleet/internal/types"
)

// Core catalog and schedule types
type (
	Printer       = types.Printer
	Window        = types.Window
	Gcode         = types.Gcode
	Product       = types.Product
	Component     = types.Component
	ScheduleEntry = types.ScheduleEntry
	EntryStatus   = types.EntryStatus
	EntryFilter   = types.EntryFilter
	GcodeFilter   = types.GcodeFilter
)

// Entry status constants
const (
	EntryPending    = types.EntryPending
	EntryScheduled  = types.EntryScheduled
	EntryInProgress = types.EntryInProgress
	EntryCompleted  = types.EntryCompleted
	EntryFailed     = types.EntryFailed
)

// Storage is the catalog and schedule store.
type Storage = storage.Storage

// Scheduler types
type (
	Engine        = scheduler.Engine
	EngineOptions = scheduler.Options
	Result        = scheduler.Result
	Reachability  = scheduler.Reachability
	InputError    = scheduler.InputError
)

// Result status constants
const (
	StatusScheduled  = scheduler.StatusScheduled
	StatusInfeasible = scheduler.StatusInfeasible
)

// AllReachable treats every printer as online.
var AllReachable = scheduler.AllReachable

// ParseWindow parses a daily availability window such as "10:00-22:00".
func ParseWindow(s string) (*Window, error) {
	return types.ParseWindow(s)
}

// OpenSQLite opens (creating if needed) a printfleet SQLite database.
func OpenSQLite(ctx context.Context, dbPath string) (Storage, error) {
	return factory.New(ctx, factory.BackendSQLite, factory.Options{Path: dbPath})
}

// NewMemoryStorage returns an empty in-process store, useful for tests and
// what-if planning.
func NewMemoryStorage() Storage {
	return memory.New()
}

// NewEngine creates a scheduler over s. A nil reach treats every printer as
// reachable.
func NewEngine(s Storage, reach Reachability, opts EngineOptions) *Engine {
	return scheduler.New(s, reach, opts)
}
