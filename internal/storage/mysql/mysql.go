// Package mysql is the server storage backend. It speaks the MySQL protocol
// through go-sql-driver/mysql and works against MySQL 8 and Dolt sql-server.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	driver "github.com/go-sql-driver/mysql"

	"github.com/printfleet/printfleet/internal/debug"
	"github.com/printfleet/printfleet/internal/storage/sqlstore"
)

// DefaultPort is the MySQL protocol port.
const DefaultPort = 3306

// Config holds the server connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      bool

	// OpenTimeout bounds the connect retry loop. Zero means 30s.
	OpenTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.User == "" {
		c.User = "root"
	}
	if c.Database == "" {
		c.Database = "printfleet"
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
}

// DSN renders the driver connection string. An empty database connects
// without selecting one, which is how the database gets created.
func (c *Config) DSN(database string) string {
	dc := driver.NewConfig()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dc.DBName = database
	// UPDATE ... RowsAffected must count matched rows, not changed rows
	dc.ClientFoundRows = true
	if c.TLS {
		dc.TLSConfig = "true"
	}
	return dc.FormatDSN()
}

// Store is the MySQL-backed storage.
type Store struct {
	*sqlstore.Store
	cfg Config
}

// New connects to the server, creating the database if needed, and
// initialises the schema. Transient connection failures (server still
// starting, stale pool connections) are retried with exponential backoff.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.setDefaults()
	if err := validateDatabaseName(cfg.Database); err != nil {
		return nil, fmt.Errorf("invalid database name %q: %w", cfg.Database, err)
	}

	if err := withRetry(ctx, cfg.OpenTimeout, func() error {
		return ensureDatabase(ctx, &cfg)
	}); err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", cfg.DSN(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to open server connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := withRetry(ctx, cfg.OpenTimeout, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	inner, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, cfg: cfg}, nil
}

// Database returns the database name in use.
func (s *Store) Database() string {
	return s.cfg.Database
}

func ensureDatabase(ctx context.Context, cfg *Config) error {
	initDB, err := sql.Open("mysql", cfg.DSN(""))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to open init connection: %w", err))
	}
	defer func() { _ = initDB.Close() }()

	_, err = initDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
	if err == nil {
		return nil
	}
	// Dolt may return 1007 even with IF NOT EXISTS
	var me *driver.MySQLError
	if errors.As(err, &me) && me.Number == 1007 {
		return nil
	}
	if isRetryableError(err) {
		debug.Logf("mysql: %s:%d not ready: %v\n", cfg.Host, cfg.Port, err)
		return err
	}
	return backoff.Permanent(fmt.Errorf("failed to create database: %w", err))
}

func withRetry(ctx context.Context, maxElapsed time.Duration, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isRetryableError(err) {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return err
			}
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

var databaseNameRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

func validateDatabaseName(name string) error {
	if !databaseNameRe.MatchString(name) {
		return fmt.Errorf("only letters, digits and underscore are allowed")
	}
	return nil
}

// isRetryableError returns true for transient connection errors.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if isLockError(err) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"lost connection",
		"gone away",
		"i/o timeout",
		"eof",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// isLockError reports deadlock (1213) and lock wait timeout (1205).
func isLockError(err error) bool {
	var me *driver.MySQLError
	return errors.As(err, &me) && (me.Number == 1213 || me.Number == 1205)
}

func isDuplicate(err error) bool {
	var me *driver.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
