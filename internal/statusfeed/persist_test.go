package statusfeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printfleet/printfleet/internal/scheduler"
	"github.com/printfleet/printfleet/internal/storage/memory"
	"github.com/printfleet/printfleet/internal/types"
)

func TestPersistDrivesEntryLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	store := memory.New()
	store.SetClock(func() time.Time { return day })

	w, err := types.ParseWindow("10:00-22:00")
	require.NoError(t, err)
	p := &types.Printer{Name: "voron", Materials: []string{"PLA"}, Window: w}
	require.NoError(t, store.CreatePrinter(ctx, p))
	require.NoError(t, store.CreateGcode(ctx, &types.Gcode{PrinterID: p.ID, Name: "bracket", Material: "PLA", EstimatedDuration: time.Hour}))
	prod := &types.Product{Name: "order", DueDate: day.Add(20 * time.Hour)}
	require.NoError(t, store.CreateProduct(ctx, prod))
	require.NoError(t, store.CreateComponent(ctx, &types.Component{ProductID: prod.ID, Name: "arm", Material: "PLA"}))

	engine := scheduler.New(store, scheduler.AllReachable, scheduler.Options{Location: time.UTC, Now: func() time.Time { return day }})
	res, err := engine.Schedule(ctx, prod.ID)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	entryID := res.Entries[0].ID

	reg := NewRegistry()
	defer reg.Close()
	done := make(chan struct{})
	go func() {
		Persist(ctx, reg, store)
		close(done)
	}()

	entryStatus := func() types.EntryStatus {
		e, err := store.GetEntry(ctx, entryID)
		if err != nil {
			return ""
		}
		return e.Status
	}

	// Persist subscribes asynchronously; keep reporting until it catches up.
	require.Eventually(t, func() bool {
		reg.Disconnect(p.ID)
		reg.Report(PrinterState{PrinterID: p.ID, Online: true, PrintState: "printing", UpdatedAt: day.Add(10*time.Hour + time.Minute)})
		return entryStatus() == types.EntryInProgress
	}, 2*time.Second, 20*time.Millisecond)

	got, err := store.GetPrinter(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PrinterOnline, got.Status)
	assert.Equal(t, "printing", got.PrintState)

	reg.Report(PrinterState{PrinterID: p.ID, Online: true, PrintState: "complete", UpdatedAt: day.Add(11 * time.Hour)})
	require.Eventually(t, func() bool { return entryStatus() == types.EntryCompleted }, 2*time.Second, 10*time.Millisecond)

	reg.Disconnect(p.ID)
	require.Eventually(t, func() bool {
		got, err := store.GetPrinter(ctx, p.ID)
		return err == nil && got.Status == types.PrinterOffline
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Persist did not stop")
	}
}

func TestPersistKeepsIdlePrinterFresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := memory.New()
	p := &types.Printer{Name: "voron", Materials: []string{"PLA"}}
	require.NoError(t, store.CreatePrinter(ctx, p))

	reg := NewRegistry()
	defer reg.Close()
	go Persist(ctx, reg, store)

	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	require.Eventually(t, func() bool {
		reg.Disconnect(p.ID)
		reg.Report(PrinterState{PrinterID: p.ID, Online: true, PrintState: "standby", UpdatedAt: start})
		got, err := store.GetPrinter(ctx, p.ID)
		return err == nil && got.Status == types.PrinterOnline
	}, 2*time.Second, 20*time.Millisecond)

	for m := 1; m < 10; m++ {
		reg.Report(PrinterState{PrinterID: p.ID, Online: true, PrintState: "standby", UpdatedAt: start.Add(time.Duration(m) * time.Minute)})
	}
	last := start.Add(9 * time.Minute)
	require.Eventually(t, func() bool {
		got, err := store.GetPrinter(ctx, p.ID)
		return err == nil && got.StatusUpdatedAt != nil && got.StatusUpdatedAt.Equal(last)
	}, 2*time.Second, 10*time.Millisecond)

	printers, err := store.ListPrinters(ctx)
	require.NoError(t, err)
	reach := scheduler.NewStoredReachability(printers, start.Add(10*time.Minute), 5*time.Minute)
	assert.True(t, reach.IsResourceReachable(p.ID), "printer seen a minute ago is reachable under a 5m max age")
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	p := &types.Printer{Name: "prusa", Materials: []string{"PETG"}}
	require.NoError(t, store.CreatePrinter(ctx, p))
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	e, err := Record(ctx, store, PrinterState{PrinterID: p.ID, Online: true, PrintState: "standby", UpdatedAt: at})
	require.NoError(t, err)
	assert.Nil(t, e, "no entries to advance")
	got, err := store.GetPrinter(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PrinterOnline, got.Status)
	assert.Equal(t, "standby", got.PrintState)

	_, err = Record(ctx, store, PrinterState{PrinterID: p.ID, UpdatedAt: at.Add(time.Minute)})
	require.NoError(t, err)
	got, err = store.GetPrinter(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PrinterOffline, got.Status)

	_, err = Record(ctx, store, PrinterState{PrinterID: "missing", Online: true})
	assert.ErrorContains(t, err, "persist status for missing")
}
