package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printfleet/printfleet/internal/config"
	"github.com/printfleet/printfleet/internal/scheduler"
	"github.com/printfleet/printfleet/internal/storage/memory"
	"github.com/printfleet/printfleet/internal/types"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"PLA", "PETG"}, splitList(" PLA, ,PETG,"))
	assert.Nil(t, splitList(""))
}

func TestPrinterFlagsBuild(t *testing.T) {
	f := printerFlags{name: "voron", host: "10.0.0.5", window: "10:00-22:00", materials: "pla,abs,PLA"}
	p, err := f.build()
	require.NoError(t, err)
	assert.Equal(t, []string{"ABS", "PLA"}, p.Materials)
	assert.Equal(t, "10:00-22:00", p.Window.String())
	assert.Equal(t, types.PrinterUnknown, p.Status)

	f.window = "none"
	p, err = f.build()
	require.NoError(t, err)
	assert.Nil(t, p.Window)

	f.window = "22:00-10:00"
	_, err = f.build()
	assert.Error(t, err, "windows do not wrap midnight")

	_, err = (&printerFlags{}).build()
	assert.ErrorContains(t, err, "name is required")
}

func TestApplyPrinterUpdate(t *testing.T) {
	w, err := types.ParseWindow("08:00-18:00")
	require.NoError(t, err)
	p := &types.Printer{ID: "p1", Name: "old", Host: "a", Window: w, Materials: []string{"PLA"}}
	changed := map[string]bool{"name": true, "window": true, "materials": true}
	f := &printerFlags{name: "new", host: "ignored", window: "", materials: "PETG"}

	require.NoError(t, applyPrinterUpdate(p, f, func(n string) bool { return changed[n] }))
	assert.Equal(t, "new", p.Name)
	assert.Equal(t, "a", p.Host, "unchanged flags are not applied")
	assert.Nil(t, p.Window, "an empty --window clears the window")
	assert.Equal(t, []string{"PETG"}, p.Materials)

	f.name = " "
	assert.Error(t, applyPrinterUpdate(p, f, func(n string) bool { return changed[n] }))
}

func TestParseDue(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*60*60)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	due, err := parseDue("2025-06-03", now, berlin)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 3, 23, 59, 59, 0, berlin), due)

	due, err = parseDue("2025-06-03 18:00", now, berlin)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 3, 18, 0, 0, 0, berlin), due)

	due, err = parseDue("+2d", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 2), due)

	_, err = parseDue("whenever you like", now, time.UTC)
	assert.Error(t, err)
}

func TestEntryFilter(t *testing.T) {
	f, err := entryFilter("p1", "", "Scheduled,failed", false)
	require.NoError(t, err)
	assert.Equal(t, "p1", f.PrinterID)
	assert.Equal(t, []types.EntryStatus{types.EntryScheduled, types.EntryFailed}, f.Statuses)

	f, err = entryFilter("", "o1", "", true)
	require.NoError(t, err)
	assert.Equal(t, []types.EntryStatus{types.EntryPending, types.EntryScheduled, types.EntryInProgress}, f.Statuses)

	_, err = entryFilter("", "", "done", false)
	assert.ErrorContains(t, err, `unknown status "done"`)
}

func TestScheduleWithRetries(t *testing.T) {
	ctx := context.Background()
	conflict := &scheduler.ConflictError{PrinterID: "p", EntryID: "e"}

	calls := 0
	res, err := scheduleWithRetries(ctx, 2, func(context.Context) (*scheduler.Result, error) {
		calls++
		if calls < 3 {
			return nil, conflict
		}
		return &scheduler.Result{Status: scheduler.StatusScheduled}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusScheduled, res.Status)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = scheduleWithRetries(ctx, 1, func(context.Context) (*scheduler.Result, error) {
		calls++
		return nil, conflict
	})
	assert.ErrorIs(t, err, scheduler.ErrConflict)
	assert.Equal(t, 2, calls)

	calls = 0
	input := &scheduler.InputError{Field: "product_id", Reason: "is required"}
	_, err = scheduleWithRetries(ctx, 5, func(context.Context) (*scheduler.Result, error) {
		calls++
		return nil, input
	})
	var ie *scheduler.InputError
	assert.True(t, errors.As(err, &ie))
	assert.Equal(t, 1, calls, "input errors are not retried")
}

func TestStoreTargets(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreatePrinter(ctx, &types.Printer{ID: "a", Name: "a", Host: "10.0.0.5"}))
	require.NoError(t, s.CreatePrinter(ctx, &types.Printer{ID: "b", Name: "b", Host: "printer-b.lan", Port: 80}))
	require.NoError(t, s.CreatePrinter(ctx, &types.Printer{ID: "c", Name: "no host"}))

	targets, err := storeTargets(s, "")(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "http://10.0.0.5:7125", targets[0].BaseURL)
	assert.Equal(t, "http://printer-b.lan:80", targets[1].BaseURL)

	targets, err = storeTargets(s, "b")(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "b", targets[0].PrinterID)
}

func TestHeartbeatFor(t *testing.T) {
	assert.Equal(t, time.Minute, heartbeatFor(0))
	assert.Equal(t, time.Minute, heartbeatFor(10*time.Minute))
	assert.Equal(t, 45*time.Second, heartbeatFor(90*time.Second))
}

func TestIsNoDbCommand(t *testing.T) {
	assert.True(t, isNoDbCommand(initCmd))
	assert.True(t, isNoDbCommand(versionCmd))
	assert.True(t, isNoDbCommand(configGetCmd))
	assert.True(t, isNoDbCommand(configListCmd))
	assert.False(t, isNoDbCommand(printerListCmd))
	assert.False(t, isNoDbCommand(scheduleCmd))
}

func TestResolveDBPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, config.DirName), 0o750))
	t.Chdir(root)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Cleanup(config.ResetForTesting)
	t.Cleanup(func() { dbPath = "" })

	require.NoError(t, config.Initialize())
	got, err := resolveDBPath()
	require.Error(t, err, "no config.yaml means no project")
	assert.Empty(t, got)

	cfgPath := filepath.Join(root, config.DirName, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(config.DefaultConfigYAML), 0o600))
	require.NoError(t, config.Initialize())
	got, err = resolveDBPath()
	require.NoError(t, err)
	assert.Equal(t, defaultDBName, filepath.Base(got))
	assert.Equal(t, config.DirName, filepath.Base(filepath.Dir(got)))

	require.NoError(t, os.WriteFile(cfgPath, []byte("db: data/fleet.db\n"), 0o600))
	require.NoError(t, config.Initialize())
	got, err = resolveDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "fleet.db"), filepath.Join(filepath.Base(filepath.Dir(got)), filepath.Base(got)))
	assert.True(t, filepath.IsAbs(got))

	dbPath = "explicit.db"
	got, err = resolveDBPath()
	require.NoError(t, err)
	assert.Equal(t, "explicit.db", got)
}
