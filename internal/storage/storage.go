// Package storage defines the persistence contract for the printer fleet.
//
// Concrete backends live in sub-packages: sqlite (default, embedded),
// mysql (MySQL-protocol servers including Dolt sql-server) and memory
// (tests and throwaway runs). The factory sub-package picks one from config.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/printfleet/printfleet/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist in the database.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on unique-key violations and on deletes that would
// orphan active schedule entries.
var ErrConflict = errors.New("conflict")

// ErrInvalid is returned when a record fails validation or references a
// record it is incompatible with (e.g. a gcode whose material its printer
// cannot print).
var ErrInvalid = errors.New("invalid record")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Storage is the interface every backend satisfies. The scheduler only
// depends on the read methods plus RunInTransaction.
type Storage interface {
	// Printers
	CreatePrinter(ctx context.Context, p *types.Printer) error
	GetPrinter(ctx context.Context, id string) (*types.Printer, error)
	ListPrinters(ctx context.Context) ([]*types.Printer, error)
	UpdatePrinter(ctx context.Context, p *types.Printer) error
	DeletePrinter(ctx context.Context, id string) error
	SetPrinterStatus(ctx context.Context, id string, status types.PrinterStatus, printState string, at time.Time) error

	// Gcodes
	CreateGcode(ctx context.Context, g *types.Gcode) error
	GetGcode(ctx context.Context, id string) (*types.Gcode, error)
	ListGcodes(ctx context.Context, filter types.GcodeFilter) ([]*types.Gcode, error)
	UpdateGcode(ctx context.Context, g *types.Gcode) error
	DeleteGcode(ctx context.Context, id string) error

	// Products and components
	CreateProduct(ctx context.Context, p *types.Product) error
	GetProduct(ctx context.Context, id string) (*types.Product, error)
	ListProducts(ctx context.Context) ([]*types.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	CreateComponent(ctx context.Context, c *types.Component) error
	GetComponent(ctx context.Context, id string) (*types.Component, error)
	ListComponents(ctx context.Context, productID string) ([]*types.Component, error)
	DeleteComponent(ctx context.Context, id string) error

	// Schedule entries
	GetEntry(ctx context.Context, id string) (*types.ScheduleEntry, error)
	ListEntries(ctx context.Context, filter types.EntryFilter) ([]*types.ScheduleEntry, error)
	UpdateEntryStatus(ctx context.Context, id string, status types.EntryStatus) (*types.ScheduleEntry, error)

	// RunInTransaction executes fn in a single atomic transaction. If fn
	// returns an error or panics, every write made through tx is discarded.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	Close() error
}

// Transaction is the write surface available inside RunInTransaction.
type Transaction interface {
	// LockPrinters takes exclusive write locks on the given printers for the
	// remainder of the transaction.
	LockPrinters(ctx context.Context, printerIDs []string) error
	ListEntries(ctx context.Context, filter types.EntryFilter) ([]*types.ScheduleEntry, error)
	DeleteEntries(ctx context.Context, ids []string) error
	CreateEntry(ctx context.Context, e *types.ScheduleEntry) error
	UpdateEntryStatus(ctx context.Context, id string, status types.EntryStatus) (*types.ScheduleEntry, error)
	RecordGcodeDuration(ctx context.Context, gcodeID string, d time.Duration) error
}

// OrderEntries is the canonical entry order: start, then printer, then ID.
func OrderEntries(a, b *types.ScheduleEntry) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	if a.PrinterID != b.PrinterID {
		if a.PrinterID < b.PrinterID {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// MatchEntry reports whether e satisfies filter.
func MatchEntry(e *types.ScheduleEntry, filter types.EntryFilter) bool {
	if filter.PrinterID != "" && e.PrinterID != filter.PrinterID {
		return false
	}
	if filter.ProductID != "" && e.ProductID != filter.ProductID {
		return false
	}
	if len(filter.ComponentIDs) > 0 && !contains(filter.ComponentIDs, e.ComponentID) {
		return false
	}
	if len(filter.Statuses) > 0 {
		ok := false
		for _, s := range filter.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ActiveStatuses are the entry states that occupy printer time.
var ActiveStatuses = []types.EntryStatus{types.EntryPending, types.EntryScheduled, types.EntryInProgress}
