// Package factory provides functions for creating storage backends based on configuration.
package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/storage/memory"
	"github.com/printfleet/printfleet/internal/storage/mysql"
	"github.com/printfleet/printfleet/internal/storage/sqlite"
	"github.com/printfleet/printfleet/internal/telemetry"
)

// Backend names accepted in the "backend" config key.
const (
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

// BackendFactory is a function that creates a storage backend
type BackendFactory func(ctx context.Context, opts Options) (storage.Storage, error)

// backendRegistry holds registered backend factories
var backendRegistry = map[string]BackendFactory{
	BackendSQLite: func(ctx context.Context, opts Options) (storage.Storage, error) {
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		return sqlite.New(ctx, opts.Path)
	},
	BackendMySQL: func(ctx context.Context, opts Options) (storage.Storage, error) {
		return mysql.New(ctx, mysql.Config{
			Host:        opts.ServerHost,
			Port:        opts.ServerPort,
			User:        opts.ServerUser,
			Password:    opts.ServerPassword,
			Database:    opts.Database,
			TLS:         opts.ServerTLS,
			OpenTimeout: opts.OpenTimeout,
		})
	},
	BackendMemory: func(ctx context.Context, opts Options) (storage.Storage, error) {
		return memory.New(), nil
	},
}

// RegisterBackend registers a storage backend factory
func RegisterBackend(name string, factory BackendFactory) {
	backendRegistry[name] = factory
}

// Options configures how the storage backend is opened
type Options struct {
	// Path is the SQLite database file
	Path string

	// MySQL server options
	ServerHost     string
	ServerPort     int
	ServerUser     string
	ServerPassword string
	ServerTLS      bool
	Database       string
	OpenTimeout    time.Duration
}

// New creates a storage backend by name ("" means sqlite) and decorates it
// with telemetry when enabled.
func New(ctx context.Context, backend string, opts Options) (storage.Storage, error) {
	if backend == "" {
		backend = BackendSQLite
	}
	factory, ok := backendRegistry[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("unknown storage backend: %s (supported: %s)", backend, strings.Join(Backends(), ", "))
	}
	s, err := factory(ctx, opts)
	if err != nil {
		return nil, err
	}
	return telemetry.WrapStorage(s), nil
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backendRegistry))
	for n := range backendRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
