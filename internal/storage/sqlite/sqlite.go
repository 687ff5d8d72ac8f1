// Package sqlite is the embedded storage backend. It runs SQLite compiled to
// WASM (ncruces/go-sqlite3 on wazero), so the binary needs no cgo.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/printfleet/printfleet/internal/storage/sqlstore"
)

// setupWASMCache configures WASM compilation caching to reduce SQLite startup
// time. The cache lives under os.UserCacheDir()/printfleet/wasm; wazero keys
// entries by its own version. Falls back to an in-memory cache.
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "printfleet", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	return cacheDir
}

func init() {
	_ = setupWASMCache()
}

// Store is the SQLite-backed storage.
type Store struct {
	*sqlstore.Store
	path string
}

// New opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func New(ctx context.Context, path string) (*Store, error) {
	connStr, inMemory, err := connString(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		// In-memory databases are per connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	inner, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	absPath := path
	if !inMemory {
		if absPath, err = filepath.Abs(path); err != nil {
			_ = inner.Close()
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}
	return &Store{Store: inner, path: absPath}, nil
}

// Path returns the absolute path to the database file.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL so writes are not stranded between CLI runs.
func (s *Store) Close() error {
	_, _ = s.DB().Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.Store.Close()
}

const pragmas = "_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"

func connString(path string) (connStr string, inMemory bool, err error) {
	switch {
	case path == ":memory:":
		return "file::memory:?" + pragmas, true, nil
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			sep := "?"
			if strings.Contains(path, "?") {
				sep = "&"
			}
			connStr += sep + pragmas
		}
		return connStr, strings.Contains(path, "mode=memory"), nil
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return "", false, fmt.Errorf("failed to create directory: %w", err)
		}
		return "file:" + path + "?" + pragmas, false, nil
	}
}
