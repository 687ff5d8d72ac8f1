package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/storage/sqlstore"
	"github.com/printfleet/printfleet/internal/storage/storagetest"
	"github.com/printfleet/printfleet/internal/types"
)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("New(%s): %v", path, err)
	}
	return s
}

func TestSQLiteFile(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return newTestStore(t, filepath.Join(t.TempDir(), "fleet.db"))
	})
}

func TestSQLiteMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return newTestStore(t, ":memory:")
	})
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "fleet.db")
	s := newTestStore(t, path)
	printerID, _, _, _ := storagetest.Seed(t, s)
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s = newTestStore(t, path)
	defer s.Close()
	if _, err := s.GetPrinter(ctx, printerID); err != nil {
		t.Fatalf("printer lost across reopen: %v", err)
	}
	v, err := s.GetMetadata(ctx, "schema_version")
	if err != nil || v != sqlstore.SchemaVersion {
		t.Errorf("schema_version = %q, %v", v, err)
	}
}

func TestPartialSecondsRoundUp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, ":memory:")
	defer s.Close()
	printerID, _, _, _ := storagetest.Seed(t, s)

	g := &types.Gcode{PrinterID: printerID, Name: "clip", Material: "PLA", EstimatedDuration: 90*time.Second + 200*time.Millisecond}
	if err := s.CreateGcode(ctx, g); err != nil {
		t.Fatalf("CreateGcode: %v", err)
	}
	got, err := s.GetGcode(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGcode: %v", err)
	}
	if got.EstimatedDuration != 91*time.Second {
		t.Errorf("EstimatedDuration = %s, want 1m31s", got.EstimatedDuration)
	}

	short := &types.Gcode{PrinterID: printerID, Name: "blip", Material: "PLA", EstimatedDuration: 400 * time.Millisecond}
	if err := s.CreateGcode(ctx, short); !errors.Is(err, storage.ErrInvalid) {
		t.Errorf("sub-second gcode: err = %v, want ErrInvalid", err)
	}
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t, ":memory:")
	_ = s.Close()
	if _, err := s.ListPrinters(context.Background()); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("ListPrinters after Close: err = %v, want ErrClosed", err)
	}
}

func TestIsBusyError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("failed to begin: SQLITE_BUSY: database is locked"), true},
		{errors.New("UNIQUE constraint failed: printers.id"), false},
	}
	for _, tt := range tests {
		if got := isBusyError(tt.err); got != tt.want {
			t.Errorf("isBusyError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if !IsUniqueConstraintError(errors.New("UNIQUE constraint failed: schedule_entries.component_id")) {
		t.Error("IsUniqueConstraintError should match")
	}
}
