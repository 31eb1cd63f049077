// Package repo is the GORM persistence layer of the relay: known groups,
// verified members and delivery reports, stored in SQLite through the pure
// Go driver.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/signal-relay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

type openOptions struct {
	maxOpen     int
	busyTimeout time.Duration
	tracing     bool
	logLevel    logger.LogLevel
}

// Option tunes OpenSQLite.
type Option func(*openOptions)

// WithMaxOpenConns caps the pool. Values below 1 are ignored.
func WithMaxOpenConns(n int) Option {
	return func(o *openOptions) {
		if n > 0 {
			o.maxOpen = n
		}
	}
}

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *openOptions) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithoutTracing skips the OpenTelemetry plugin.
func WithoutTracing() Option { return func(o *openOptions) { o.tracing = false } }

// WithQueryLog enables GORM's own query logger at level.
func WithQueryLog(level logger.LogLevel) Option {
	return func(o *openOptions) { o.logLevel = level }
}

// OpenSQLite opens (or creates) the database at dsn. File paths get their
// parent directory created; "file:" DSNs are passed through untouched.
func OpenSQLite(dsn string, opts ...Option) (*gorm.DB, error) {
	o := openOptions{
		maxOpen:     10,
		busyTimeout: 5 * time.Second,
		tracing:     true,
		logLevel:    logger.Silent,
	}
	for _, fn := range opts {
		fn(&o)
	}

	if !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("db dir: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(o.logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	if o.tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("otel plugin: %w", err)
		}
	}

	for _, p := range pragmas(o) {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(o.maxOpen)
	sqlDB.SetMaxIdleConns(o.maxOpen)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// journal_mode=WAL is a no-op on in-memory databases and reports "memory".
func pragmas(o openOptions) []string {
	return []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", o.busyTimeout.Milliseconds()),
	}
}

// AutoMigrate creates or updates the relay tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Group{},
		&domain.VerifiedUser{},
		&domain.DeliveryReport{},
	); err != nil {
		return err
	}
	return db.Exec(activeCodeIndex).Error
}
