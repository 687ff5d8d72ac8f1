package mysql

import (
	"errors"
	"strings"
	"testing"

	driver "github.com/go-sql-driver/mysql"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db.internal", User: "fleet", Password: "s3cret", Database: "shop", TLS: true}
	cfg.setDefaults()

	dsn := cfg.DSN(cfg.Database)
	parsed, err := driver.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("ParseDSN(%q): %v", dsn, err)
	}
	if parsed.Addr != "db.internal:3306" || parsed.User != "fleet" || parsed.Passwd != "s3cret" || parsed.DBName != "shop" {
		t.Errorf("parsed = %+v", parsed)
	}
	if !parsed.ClientFoundRows {
		t.Error("ClientFoundRows must be set so no-op updates still count as found")
	}
	if !strings.Contains(dsn, "tls=true") {
		t.Errorf("dsn %q missing tls", dsn)
	}

	if initDSN := cfg.DSN(""); strings.Contains(initDSN, "/shop") {
		t.Errorf("init DSN %q should not select a database", initDSN)
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	cfg.setDefaults()
	if cfg.Host != "127.0.0.1" || cfg.Port != DefaultPort || cfg.User != "root" || cfg.Database != "printfleet" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestValidateDatabaseName(t *testing.T) {
	for _, ok := range []string{"printfleet", "fleet_2"} {
		if err := validateDatabaseName(ok); err != nil {
			t.Errorf("%q rejected: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a`b", "x; DROP TABLE printers", "has-dash"} {
		if err := validateDatabaseName(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	deadlock := &driver.MySQLError{Number: 1213, Message: "Deadlock found"}
	dup := &driver.MySQLError{Number: 1062, Message: "Duplicate entry"}

	if !isLockError(deadlock) || !isRetryableError(deadlock) {
		t.Error("deadlock should be retryable")
	}
	if !isDuplicate(dup) || isRetryableError(dup) {
		t.Error("duplicate key should be permanent")
	}
	if !isRetryableError(errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")) {
		t.Error("connection refused should be retryable")
	}
	if isRetryableError(errors.New("Error 1146: Table 'x' doesn't exist")) {
		t.Error("missing table should not be retryable")
	}
}
