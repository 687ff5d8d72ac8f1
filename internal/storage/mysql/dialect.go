package mysql

import "github.com/printfleet/printfleet/internal/storage/sqlstore"

// Dialect is the MySQL flavour of the shared SQL store. Writers lock the
// printer rows they schedule on with SELECT ... FOR UPDATE, so commits on
// disjoint printers proceed in parallel.
var Dialect = &sqlstore.Dialect{
	Name:        "mysql",
	Schema:      schema,
	BeginStmt:   "START TRANSACTION",
	LockSuffix:  " FOR UPDATE",
	IsRetryable: isLockError,
	IsDuplicate: isDuplicate,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
var schema = []string{
	"CREATE TABLE IF NOT EXISTS metadata (\n" +
		"    meta_key VARCHAR(64) PRIMARY KEY,\n" +
		"    meta_value TEXT NOT NULL\n" +
		")",
	`CREATE TABLE IF NOT EXISTS printers (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    model VARCHAR(255) NOT NULL DEFAULT '',
    host VARCHAR(255) NOT NULL DEFAULT '',
    port INT NOT NULL DEFAULT 0,
    window_start INT NULL,
    window_end INT NULL,
    materials VARCHAR(1024) NOT NULL DEFAULT '',
    heated_chamber TINYINT NOT NULL DEFAULT 0,
    status VARCHAR(16) NOT NULL DEFAULT 'unknown',
    print_state VARCHAR(32) NOT NULL DEFAULT '',
    status_updated_at VARCHAR(32) NULL,
    created_at VARCHAR(32) NOT NULL,
    updated_at VARCHAR(32) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS gcodes (
    id VARCHAR(64) PRIMARY KEY,
    printer_id VARCHAR(64) NOT NULL,
    name VARCHAR(255) NOT NULL,
    file_path VARCHAR(1024) NOT NULL DEFAULT '',
    material VARCHAR(64) NOT NULL,
    estimated_seconds BIGINT NOT NULL,
    historical_seconds BIGINT NULL,
    created_at VARCHAR(32) NOT NULL,
    INDEX idx_gcodes_printer (printer_id),
    CONSTRAINT fk_gcodes_printer FOREIGN KEY (printer_id) REFERENCES printers(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS products (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL,
    due_date VARCHAR(32) NOT NULL,
    created_at VARCHAR(32) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS components (
    id VARCHAR(64) PRIMARY KEY,
    product_id VARCHAR(64) NOT NULL,
    name VARCHAR(255) NOT NULL,
    material VARCHAR(64) NOT NULL,
    seq INT NOT NULL,
    created_at VARCHAR(32) NOT NULL,
    INDEX idx_components_product (product_id, seq),
    CONSTRAINT fk_components_product FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS component_gcodes (
    component_id VARCHAR(64) NOT NULL,
    gcode_id VARCHAR(64) NOT NULL,
    PRIMARY KEY (component_id, gcode_id),
    CONSTRAINT fk_cg_component FOREIGN KEY (component_id) REFERENCES components(id) ON DELETE CASCADE,
    CONSTRAINT fk_cg_gcode FOREIGN KEY (gcode_id) REFERENCES gcodes(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS schedule_entries (
    id VARCHAR(64) PRIMARY KEY,
    component_id VARCHAR(64) NOT NULL,
    product_id VARCHAR(64) NOT NULL,
    printer_id VARCHAR(64) NOT NULL,
    gcode_id VARCHAR(64) NOT NULL,
    start_at VARCHAR(32) NOT NULL,
    finish_at VARCHAR(32) NOT NULL,
    deadline VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'pending',
    created_at VARCHAR(32) NOT NULL,
    updated_at VARCHAR(32) NOT NULL,
    UNIQUE KEY uq_entries_component (component_id),
    INDEX idx_entries_printer (printer_id, status, start_at),
    INDEX idx_entries_product (product_id),
    CONSTRAINT fk_entries_component FOREIGN KEY (component_id) REFERENCES components(id) ON DELETE CASCADE
)`,
}
