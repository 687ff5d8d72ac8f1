package sqlite

import (
	"strings"

	"github.com/printfleet/printfleet/internal/storage/sqlstore"
)

// Dialect is the SQLite flavour of the shared SQL store. BEGIN IMMEDIATE takes
// the database write lock up front, which serialises schedule commits across
// processes, so printer locking needs no extra clause.
var Dialect = &sqlstore.Dialect{
	Name:        "sqlite",
	Schema:      schema,
	BeginStmt:   "BEGIN IMMEDIATE",
	IsRetryable: isBusyError,
	IsDuplicate: IsUniqueConstraintError,
}

// isBusyError reports SQLITE_BUSY / "database is locked" failures.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IsUniqueConstraintError checks if an error is a UNIQUE or PRIMARY KEY violation.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
    meta_key TEXT PRIMARY KEY,
    meta_value TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS printers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    host TEXT NOT NULL DEFAULT '',
    port INTEGER NOT NULL DEFAULT 0,
    -- daily availability in minutes since midnight; NULL means always available
    window_start INTEGER,
    window_end INTEGER,
    materials TEXT NOT NULL DEFAULT '',
    heated_chamber INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'unknown',
    print_state TEXT NOT NULL DEFAULT '',
    status_updated_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    CHECK (window_start IS NULL OR window_end > window_start)
)`,
	`CREATE TABLE IF NOT EXISTS gcodes (
    id TEXT PRIMARY KEY,
    printer_id TEXT NOT NULL REFERENCES printers(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    material TEXT NOT NULL,
    estimated_seconds INTEGER NOT NULL CHECK (estimated_seconds > 0),
    historical_seconds INTEGER,
    created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_gcodes_printer ON gcodes(printer_id)`,
	`CREATE TABLE IF NOT EXISTS products (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    due_date TEXT NOT NULL,
    created_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS components (
    id TEXT PRIMARY KEY,
    product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    material TEXT NOT NULL,
    seq INTEGER NOT NULL,
    created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_components_product ON components(product_id, seq)`,
	`CREATE TABLE IF NOT EXISTS component_gcodes (
    component_id TEXT NOT NULL REFERENCES components(id) ON DELETE CASCADE,
    gcode_id TEXT NOT NULL REFERENCES gcodes(id) ON DELETE CASCADE,
    PRIMARY KEY (component_id, gcode_id)
)`,
	`CREATE TABLE IF NOT EXISTS schedule_entries (
    id TEXT PRIMARY KEY,
    component_id TEXT NOT NULL UNIQUE REFERENCES components(id) ON DELETE CASCADE,
    product_id TEXT NOT NULL,
    printer_id TEXT NOT NULL,
    gcode_id TEXT NOT NULL,
    start_at TEXT NOT NULL,
    finish_at TEXT NOT NULL,
    deadline TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    CHECK (finish_at > start_at)
)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_printer ON schedule_entries(printer_id, status, start_at)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_product ON schedule_entries(product_id)`,
}
