package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/storage/memory"
	"github.com/printfleet/printfleet/internal/storage/sqlite"
	"github.com/printfleet/printfleet/internal/types"
)

func TestConcurrentScheduleNeverDoubleBooks(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Storage{
		"memory": func(t *testing.T) storage.Storage { return memory.New() },
		"sqlite": func(t *testing.T) storage.Storage {
			s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "fleet.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	for name, open := range backends {
		for _, shared := range []bool{true, false} {
			label := name + "/separate-engines"
			if shared {
				label = name + "/shared-engine"
			}
			t.Run(label, func(t *testing.T) {
				runConcurrentSchedules(t, open(t), shared)
			})
		}
	}
}

// runConcurrentSchedules races one Schedule per product, every product
// competing for the same printer. Separate engines stand in for separate
// processes, leaving only the store's transaction to serialise them.
func runConcurrentSchedules(t *testing.T, store storage.Storage, shared bool) {
	const n = 6
	ctx := context.Background()
	w, err := types.ParseWindow("10:00-22:00")
	require.NoError(t, err)
	p := &types.Printer{Name: "voron", Materials: []string{"PLA"}, Window: w}
	require.NoError(t, store.CreatePrinter(ctx, p))
	require.NoError(t, store.CreateGcode(ctx, &types.Gcode{PrinterID: p.ID, Name: "bracket", Material: "PLA", EstimatedDuration: time.Hour}))

	products := make([]string, n)
	for i := range products {
		prod := &types.Product{Name: "order", DueDate: at(20, 0)}
		require.NoError(t, store.CreateProduct(ctx, prod))
		require.NoError(t, store.CreateComponent(ctx, &types.Component{ProductID: prod.ID, Name: "arm", Material: "PLA"}))
		products[i] = prod.ID
	}

	opts := Options{Location: time.UTC, Now: func() time.Time { return day }}
	sharedEngine := New(store, AllReachable, opts)

	var (
		wg      sync.WaitGroup
		ready   = make(chan struct{})
		results = make([]*Result, n)
		errs    = make([]error, n)
	)
	for i, id := range products {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			engine := sharedEngine
			if !shared {
				engine = New(store, AllReachable, opts)
			}
			<-ready
			results[i], errs[i] = engine.Schedule(ctx, id)
		}(i, id)
	}
	close(ready)
	wg.Wait()

	scheduled := 0
	for i := range products {
		if errs[i] != nil {
			assert.True(t, errors.Is(errs[i], ErrConflict), "run %d: want success or ErrConflict, got %v", i, errs[i])
			continue
		}
		if assert.Equal(t, StatusScheduled, results[i].Status, "run %d", i) {
			scheduled++
		}
	}
	assert.GreaterOrEqual(t, scheduled, 1, "at least one run must commit")

	active, err := store.ListEntries(ctx, types.EntryFilter{Statuses: storage.ActiveStatuses})
	require.NoError(t, err)
	assert.Len(t, active, scheduled, "one entry per committed run")
	assertValidSchedule(t, store)
}
