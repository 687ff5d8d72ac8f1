package printfleet_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/printfleet/printfleet"
)

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := printfleet.OpenSQLite(ctx, filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer s.Close()

	if err := s.CreatePrinter(ctx, &printfleet.Printer{Name: "voron", Materials: []string{"PLA"}}); err != nil {
		t.Fatalf("CreatePrinter: %v", err)
	}
	printers, err := s.ListPrinters(ctx)
	if err != nil || len(printers) != 1 {
		t.Fatalf("ListPrinters = %v, %v", printers, err)
	}
}

func TestScheduleThroughPublicAPI(t *testing.T) {
	ctx := context.Background()
	s := printfleet.NewMemoryStorage()
	defer s.Close()

	w, err := printfleet.ParseWindow("10:00-22:00")
	if err != nil {
		t.Fatal(err)
	}
	p := &printfleet.Printer{Name: "voron", Window: w, Materials: []string{"PLA"}}
	if err := s.CreatePrinter(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateGcode(ctx, &printfleet.Gcode{PrinterID: p.ID, Name: "bracket", Material: "PLA", EstimatedDuration: time.Hour}); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	prod := &printfleet.Product{Name: "order", DueDate: now.Add(12 * time.Hour)}
	if err := s.CreateProduct(ctx, prod); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateComponent(ctx, &printfleet.Component{ProductID: prod.ID, Name: "arm", Material: "PLA"}); err != nil {
		t.Fatal(err)
	}

	engine := printfleet.NewEngine(s, printfleet.AllReachable, printfleet.EngineOptions{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})
	res, err := engine.Schedule(ctx, prod.ID)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if res.Status != printfleet.StatusScheduled || len(res.Entries) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := res.Entries[0].Start; !got.Equal(now.Add(2 * time.Hour)) {
		t.Errorf("start = %s, want 10:00", got)
	}

	entries, err := s.ListEntries(ctx, printfleet.EntryFilter{ProductID: prod.ID, Statuses: []printfleet.EntryStatus{printfleet.EntryScheduled}})
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListEntries = %v, %v", entries, err)
	}
}
