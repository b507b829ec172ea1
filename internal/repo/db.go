// Package repo implements persistence for tickets, DNXL documents and
// idempotency records on top of GORM. This file opens the database (pure-Go
// SQLite for single-node installs, PostgreSQL for shared ones) and owns the
// schema.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-ncr-backend/internal/domain"
)

// sqlitePragmas go into the DSN so the driver applies them to every pooled
// connection, not only the first one. WAL plus a busy timeout lets the cron
// jobs read while a ticket approval is being written.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// sqliteDSN appends the pragmas to path, keeping any query it already has.
func sqliteDSN(path string) string {
	q := make([]string, 0, len(sqlitePragmas))
	for _, p := range sqlitePragmas {
		q = append(q, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(q, "&")
}

type poolLimits struct {
	maxOpen, maxIdle int
}

var (
	sqlitePool   = poolLimits{maxOpen: 10, maxIdle: 10}
	postgresPool = poolLimits{maxOpen: 25, maxIdle: 10}
)

// Open picks the dialect by driver name: "sqlite" (the default) uses path,
// "postgres" uses dsn.
func Open(driver, path, dsn string) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return OpenSQLite(path)
	case "postgres", "postgresql":
		return OpenPostgres(dsn)
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
}

// OpenSQLite opens or creates the database file at path. The parent
// directory must already exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return instrument(db, sqlitePool)
}

// OpenPostgres connects with a libpq keyword DSN or a postgres:// URL.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: empty DSN")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return instrument(db, postgresPool)
}

// instrument applies pool limits and the OTel tracing plugin.
func instrument(db *gorm.DB, lim poolLimits) (*gorm.DB, error) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(lim.maxOpen)
		sqlDB.SetMaxIdleConns(lim.maxIdle)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.NCRRow{},
		&domain.NCRSequence{},
		&domain.TicketEvent{},
		&domain.DNXL{},
		&domain.DNXLDetail{},
		&domain.Idempotency{},
	)
}
