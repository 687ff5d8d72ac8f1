package factory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/printfleet/printfleet/internal/storage"
)

func TestNewSQLiteDefault(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "", Options{Path: filepath.Join(t.TempDir(), "fleet.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if _, err := s.ListPrinters(ctx); err != nil {
		t.Errorf("ListPrinters: %v", err)
	}
}

func TestNewMemory(t *testing.T) {
	s, err := New(context.Background(), "MEMORY", Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = s.Close()
}

func TestNewErrors(t *testing.T) {
	if _, err := New(context.Background(), "sqlite", Options{}); err == nil {
		t.Error("sqlite without path should fail")
	}
	_, err := New(context.Background(), "postgres", Options{})
	if err == nil || !strings.Contains(err.Error(), "supported: memory, mysql, sqlite") {
		t.Errorf("unknown backend err = %v", err)
	}
}

func TestRegisterBackend(t *testing.T) {
	called := false
	RegisterBackend("fake", func(ctx context.Context, opts Options) (storage.Storage, error) {
		called = true
		return backendRegistry[BackendMemory](ctx, opts)
	})
	defer delete(backendRegistry, "fake")

	s, err := New(context.Background(), "fake", Options{})
	if err != nil || !called {
		t.Fatalf("New(fake) = %v, called=%v", err, called)
	}
	_ = s.Close()
}
