// Package storagetest holds the behavioural test suite every storage backend
// must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"PrinterRoundTrip", testPrinterRoundTrip},
		{"PrinterStatus", testPrinterStatus},
		{"GcodeMaterialMustMatchPrinter", testGcodeMaterial},
		{"GcodeUpdate", testGcodeUpdate},
		{"ComponentSequenceAndAllowedSet", testComponentSequence},
		{"TransactionCommit", testTransactionCommit},
		{"TransactionRollback", testTransactionRollback},
		{"EntryTransitions", testEntryTransitions},
		{"DeleteRefusesActiveEntries", testDeleteRefusesActive},
		{"NotFound", testNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

var day = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

// Seed creates one PLA printer with one gcode, and one product with one
// component. It returns their IDs.
func Seed(t *testing.T, s storage.Storage) (printerID, gcodeID, productID, componentID string) {
	t.Helper()
	ctx := context.Background()
	p := &types.Printer{
		Name:      "voron-1",
		Host:      "10.0.0.5",
		Window:    &types.Window{Start: types.NewTimeOfDay(10, 0), End: types.NewTimeOfDay(22, 0)},
		Materials: []string{"pla", "PETG"},
	}
	if err := s.CreatePrinter(ctx, p); err != nil {
		t.Fatalf("CreatePrinter: %v", err)
	}
	g := &types.Gcode{PrinterID: p.ID, Name: "bracket", Material: "PLA", EstimatedDuration: 3 * time.Hour}
	if err := s.CreateGcode(ctx, g); err != nil {
		t.Fatalf("CreateGcode: %v", err)
	}
	prod := &types.Product{Name: "shelf", DueDate: day.Add(23 * time.Hour)}
	if err := s.CreateProduct(ctx, prod); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	c := &types.Component{ProductID: prod.ID, Name: "left bracket", Material: "PLA"}
	if err := s.CreateComponent(ctx, c); err != nil {
		t.Fatalf("CreateComponent: %v", err)
	}
	return p.ID, g.ID, prod.ID, c.ID
}

func testGcodeUpdate(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	printerID, gcodeID, _, _ := Seed(t, s)
	g, err := s.GetGcode(ctx, gcodeID)
	if err != nil {
		t.Fatalf("GetGcode: %v", err)
	}
	created := g.CreatedAt
	hist := 2*time.Hour + 50*time.Minute
	g.Name = "bracket v2"
	g.FilePath = "shelf/bracket_v2.gcode"
	g.Material = "petg"
	g.EstimatedDuration = 2*time.Hour + 45*time.Minute
	g.HistoricalDuration = &hist
	if err := s.UpdateGcode(ctx, g); err != nil {
		t.Fatalf("UpdateGcode: %v", err)
	}
	got, err := s.GetGcode(ctx, gcodeID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "bracket v2" || got.FilePath != "shelf/bracket_v2.gcode" || got.Material != "PETG" {
		t.Errorf("after update = %+v", got)
	}
	if got.EstimatedDuration != 2*time.Hour+45*time.Minute || got.HistoricalDuration == nil || *got.HistoricalDuration != hist {
		t.Errorf("durations = %s, %v", got.EstimatedDuration, got.HistoricalDuration)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed from %s to %s", created, got.CreatedAt)
	}

	got.Material = "ABS"
	if err := s.UpdateGcode(ctx, got); !errors.Is(err, storage.ErrInvalid) {
		t.Errorf("unsupported material: err = %v, want ErrInvalid", err)
	}
	moved := *got
	moved.Material = "PLA"
	moved.PrinterID = "pr-elsewhere"
	if err := s.UpdateGcode(ctx, &moved); !errors.Is(err, storage.ErrInvalid) {
		t.Errorf("changing printer: err = %v, want ErrInvalid", err)
	}
	missing := &types.Gcode{ID: "gc-missing", PrinterID: printerID, Name: "x", Material: "PLA", EstimatedDuration: time.Hour}
	if err := s.UpdateGcode(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing gcode: err = %v, want ErrNotFound", err)
	}
}

func testPrinterRoundTrip(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	p := &types.Printer{
		Name:          "prusa",
		Model:         "MK4",
		Host:          "prusa.local",
		Port:          7125,
		Window:        &types.Window{Start: types.NewTimeOfDay(8, 30), End: types.NewTimeOfDay(20, 0)},
		Materials:     []string{"abs", "PLA"},
		HeatedChamber: true,
	}
	if err := s.CreatePrinter(ctx, p); err != nil {
		t.Fatalf("CreatePrinter: %v", err)
	}
	got, err := s.GetPrinter(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPrinter: %v", err)
	}
	if got.Name != "prusa" || got.Model != "MK4" || got.Port != 7125 || !got.HeatedChamber {
		t.Errorf("GetPrinter = %+v", got)
	}
	if got.Window == nil || *got.Window != *p.Window {
		t.Errorf("Window = %v, want %v", got.Window, p.Window)
	}
	if len(got.Materials) != 2 || got.Materials[0] != "ABS" || got.Materials[1] != "PLA" {
		t.Errorf("Materials = %v, want [ABS PLA]", got.Materials)
	}
	if got.Status != types.PrinterUnknown {
		t.Errorf("Status = %q, want unknown", got.Status)
	}

	got.Window = nil
	got.Name = "prusa-2"
	if err := s.UpdatePrinter(ctx, got); err != nil {
		t.Fatalf("UpdatePrinter: %v", err)
	}
	again, err := s.GetPrinter(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Window != nil || again.Name != "prusa-2" {
		t.Errorf("after update = %+v", again)
	}

	list, err := s.ListPrinters(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListPrinters = %d, %v", len(list), err)
	}

	bad := &types.Printer{Name: "bad", Window: &types.Window{Start: types.NewTimeOfDay(12, 0), End: types.NewTimeOfDay(9, 0)}}
	if err := s.CreatePrinter(ctx, bad); !errors.Is(err, storage.ErrInvalid) {
		t.Errorf("inverted window: err = %v, want ErrInvalid", err)
	}
	dup := &types.Printer{ID: p.ID, Name: "dup"}
	if err := s.CreatePrinter(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate id: err = %v, want ErrConflict", err)
	}
}

func testPrinterStatus(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	printerID, _, _, _ := Seed(t, s)
	at := day.Add(9 * time.Hour)
	if err := s.SetPrinterStatus(ctx, printerID, types.PrinterOnline, "standby", at); err != nil {
		t.Fatalf("SetPrinterStatus: %v", err)
	}
	p, err := s.GetPrinter(ctx, printerID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != types.PrinterOnline || p.PrintState != "standby" {
		t.Errorf("status = %s/%s", p.Status, p.PrintState)
	}
	if p.StatusUpdatedAt == nil || !p.StatusUpdatedAt.Equal(at) {
		t.Errorf("StatusUpdatedAt = %v, want %v", p.StatusUpdatedAt, at)
	}
	// Setting the same value twice must still report the row as found
	if err := s.SetPrinterStatus(ctx, printerID, types.PrinterOnline, "standby", at); err != nil {
		t.Errorf("repeat SetPrinterStatus: %v", err)
	}
	if err := s.SetPrinterStatus(ctx, "pr-missing", types.PrinterOnline, "", at); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing printer: err = %v, want ErrNotFound", err)
	}
}

func testGcodeMaterial(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	printerID, gcodeID, _, _ := Seed(t, s)

	g := &types.Gcode{PrinterID: printerID, Name: "vent", Material: "ASA", EstimatedDuration: time.Hour}
	if err := s.CreateGcode(ctx, g); !errors.Is(err, storage.ErrInvalid) {
		t.Errorf("unsupported material: err = %v, want ErrInvalid", err)
	}
	orphan := &types.Gcode{PrinterID: "pr-none", Name: "vent", Material: "PLA", EstimatedDuration: time.Hour}
	if err := s.CreateGcode(ctx, orphan); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown printer: err = %v, want ErrNotFound", err)
	}

	got, err := s.GetGcode(ctx, gcodeID)
	if err != nil {
		t.Fatal(err)
	}
	if got.EstimatedDuration != 3*time.Hour || got.Material != "PLA" || got.HistoricalDuration != nil {
		t.Errorf("GetGcode = %+v", got)
	}

	list, err := s.ListGcodes(ctx, types.GcodeFilter{PrinterID: printerID, Material: "pla"})
	if err != nil || len(list) != 1 {
		t.Errorf("ListGcodes by material = %d, %v", len(list), err)
	}
	list, err = s.ListGcodes(ctx, types.GcodeFilter{Material: "PETG"})
	if err != nil || len(list) != 0 {
		t.Errorf("ListGcodes PETG = %d, %v", len(list), err)
	}
}

func testComponentSequence(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_, gcodeID, productID, firstID := Seed(t, s)

	second := &types.Component{ProductID: productID, Name: "right bracket", Material: "pla", AllowedGcodes: []string{gcodeID}}
	if err := s.CreateComponent(ctx, second); err != nil {
		t.Fatalf("CreateComponent: %v", err)
	}
	comps, err := s.ListComponents(ctx, productID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comps) != 2 || comps[0].ID != firstID || comps[1].ID != second.ID {
		t.Fatalf("ListComponents order = %v", comps)
	}
	if comps[0].Seq >= comps[1].Seq {
		t.Errorf("Seq not increasing: %d, %d", comps[0].Seq, comps[1].Seq)
	}
	if comps[1].Material != "PLA" {
		t.Errorf("material not normalised: %q", comps[1].Material)
	}
	got, err := s.GetComponent(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.AllowedGcodes) != 1 || got.AllowedGcodes[0] != gcodeID {
		t.Errorf("AllowedGcodes = %v", got.AllowedGcodes)
	}

	bad := &types.Component{ProductID: productID, Name: "x", Material: "PLA", AllowedGcodes: []string{"gc-none"}}
	if err := s.CreateComponent(ctx, bad); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown allowed gcode: err = %v, want ErrNotFound", err)
	}
	if err := s.CreateComponent(ctx, &types.Component{ProductID: "prod-none", Name: "x", Material: "PLA"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown product: err = %v, want ErrNotFound", err)
	}
}

func newEntry(printerID, gcodeID, productID, componentID string, start time.Time, d time.Duration) *types.ScheduleEntry {
	return &types.ScheduleEntry{
		ComponentID: componentID,
		ProductID:   productID,
		PrinterID:   printerID,
		GcodeID:     gcodeID,
		Start:       start,
		Finish:      start.Add(d),
		Deadline:    day.Add(23 * time.Hour),
		Status:      types.EntryScheduled,
	}
}

func testTransactionCommit(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	printerID, gcodeID, productID, componentID := Seed(t, s)

	start := day.Add(10 * time.Hour)
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.LockPrinters(ctx, []string{printerID}); err != nil {
			return err
		}
		return tx.CreateEntry(ctx, newEntry(printerID, gcodeID, productID, componentID, start, 3*time.Hour))
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}

	entries, err := s.ListEntries(ctx, types.EntryFilter{ProductID: productID})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if !e.Start.Equal(start) || !e.Finish.Equal(start.Add(3*time.Hour)) || e.Status != types.EntryScheduled {
		t.Errorf("entry = %+v", e)
	}
	byID, err := s.GetEntry(ctx, e.ID)
	if err != nil || byID.ComponentID != componentID {
		t.Errorf("GetEntry = %+v, %v", byID, err)
	}

	filtered, _ := s.ListEntries(ctx, types.EntryFilter{PrinterID: printerID, Statuses: []types.EntryStatus{types.EntryCompleted}})
	if len(filtered) != 0 {
		t.Errorf("status filter returned %d entries", len(filtered))
	}

	// A second entry for the same component violates uniqueness
	err = s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.CreateEntry(ctx, newEntry(printerID, gcodeID, productID, componentID, start.Add(4*time.Hour), time.Hour))
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate component entry: err = %v, want ErrConflict", err)
	}

	if err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.LockPrinters(ctx, []string{"pr-none"})
	}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LockPrinters unknown: err = %v, want ErrNotFound", err)
	}
}

func testTransactionRollback(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	printerID, gcodeID, productID, componentID := Seed(t, s)
	second := &types.Component{ProductID: productID, Name: "second", Material: "PLA"}
	if err := s.CreateComponent(ctx, second); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateEntry(ctx, newEntry(printerID, gcodeID, productID, componentID, day.Add(10*time.Hour), time.Hour)); err != nil {
			return err
		}
		if err := tx.CreateEntry(ctx, newEntry(printerID, gcodeID, productID, second.ID, day.Add(11*time.Hour), time.Hour)); err != nil {
			return err
		}
		if err := tx.RecordGcodeDuration(ctx, gcodeID, 2*time.Hour); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	entries, err := s.ListEntries(ctx, types.EntryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("rolled back transaction left %d entries", len(entries))
	}
	g, _ := s.GetGcode(ctx, gcodeID)
	if g.HistoricalDuration != nil {
		t.Errorf("rolled back duration persisted: %v", *g.HistoricalDuration)
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("panic was not re-raised")
			}
		}()
		_ = s.RunInTransaction(ctx, func(tx storage.Transaction) error {
			_ = tx.CreateEntry(ctx, newEntry(printerID, gcodeID, productID, componentID, day.Add(10*time.Hour), time.Hour))
			panic("mid-transaction")
		})
	}()
	entries, _ = s.ListEntries(ctx, types.EntryFilter{})
	if len(entries) != 0 {
		t.Errorf("panicking transaction left %d entries", len(entries))
	}
}

func testEntryTransitions(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	printerID, gcodeID, productID, componentID := Seed(t, s)
	e := newEntry(printerID, gcodeID, productID, componentID, day.Add(10*time.Hour), time.Hour)
	if err := s.RunInTransaction(ctx, func(tx storage.Transaction) error { return tx.CreateEntry(ctx, e) }); err != nil {
		t.Fatal(err)
	}

	if _, err := s.UpdateEntryStatus(ctx, e.ID, types.EntryCompleted); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("scheduled->completed: err = %v, want ErrInvalidTransition", err)
	}
	got, err := s.UpdateEntryStatus(ctx, e.ID, types.EntryInProgress)
	if err != nil {
		t.Fatalf("scheduled->in-progress: %v", err)
	}
	if got.Status != types.EntryInProgress {
		t.Errorf("status = %s", got.Status)
	}
	if _, err := s.UpdateEntryStatus(ctx, e.ID, types.EntryCompleted); err != nil {
		t.Fatalf("in-progress->completed: %v", err)
	}
	stored, _ := s.GetEntry(ctx, e.ID)
	if stored.Status != types.EntryCompleted {
		t.Errorf("stored status = %s", stored.Status)
	}
	if _, err := s.UpdateEntryStatus(ctx, "se-none", types.EntryFailed); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing entry: err = %v, want ErrNotFound", err)
	}
}

func testDeleteRefusesActive(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	printerID, gcodeID, productID, componentID := Seed(t, s)
	e := newEntry(printerID, gcodeID, productID, componentID, day.Add(10*time.Hour), time.Hour)
	if err := s.RunInTransaction(ctx, func(tx storage.Transaction) error { return tx.CreateEntry(ctx, e) }); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePrinter(ctx, printerID); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("DeletePrinter with active entry: err = %v, want ErrConflict", err)
	}
	if err := s.DeleteGcode(ctx, gcodeID); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("DeleteGcode with active entry: err = %v, want ErrConflict", err)
	}
	if err := s.DeleteComponent(ctx, componentID); err != nil {
		t.Fatalf("DeleteComponent: %v", err)
	}
	if entries, _ := s.ListEntries(ctx, types.EntryFilter{}); len(entries) != 0 {
		t.Errorf("component delete left %d entries", len(entries))
	}
	if err := s.DeletePrinter(ctx, printerID); err != nil {
		t.Fatalf("DeletePrinter: %v", err)
	}
	if _, err := s.GetGcode(ctx, gcodeID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("gcode survived printer delete: %v", err)
	}
	if err := s.DeleteProduct(ctx, productID); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
}

func testNotFound(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	checks := map[string]error{}
	_, checks["GetPrinter"] = s.GetPrinter(ctx, "pr-x")
	_, checks["GetGcode"] = s.GetGcode(ctx, "gc-x")
	_, checks["GetProduct"] = s.GetProduct(ctx, "prod-x")
	_, checks["GetComponent"] = s.GetComponent(ctx, "cmp-x")
	_, checks["GetEntry"] = s.GetEntry(ctx, "se-x")
	checks["DeletePrinter"] = s.DeletePrinter(ctx, "pr-x")
	checks["UpdatePrinter"] = s.UpdatePrinter(ctx, &types.Printer{ID: "pr-x", Name: "x"})
	for name, err := range checks {
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("%s: err = %v, want ErrNotFound", name, err)
		}
	}
}
