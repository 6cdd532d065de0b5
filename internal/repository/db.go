package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/timmy/themescope/internal/config"
	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("record not found")

// InitDB opens the run history database and, when enabled, migrates its tables.
// Parameters:
//   - cfg: database settings; an unknown driver falls back to sqlite.
//
// Returns:
//   - *gorm.DB: open handle with pool limits applied.
//   - error: connection, pool or migration failure.
func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	log := logger.GetDefault().WithField(logger.FieldComponent, "db")

	driver := cfg.Driver
	if driver != "postgres" && driver != "sqlite" {
		log.Warnf("Unknown database driver %q, using sqlite", driver)
		driver = "sqlite"
	}

	dialector, err := openDialector(driver, cfg)
	if err != nil {
		return nil, err
	}

	logMode := gormlogger.Warn
	if cfg.LogQueries {
		logMode = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(logMode)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == "sqlite" {
		// Concurrent readers (status API) alongside the run writer.
		db.Exec("PRAGMA journal_mode=WAL")
		db.Exec("PRAGMA foreign_keys=ON")
	}

	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if !cfg.AutoMigrate {
		log.Infof("Database ready without migration: driver=%s", driver)
		return db, nil
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Infof("Database ready: driver=%s", driver)
	return db, nil
}

func openDialector(driver string, cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	if driver == "postgres" {
		// Simple protocol keeps transaction poolers such as pgbouncer working.
		return postgres.New(postgres.Config{DSN: cfg.DSN(), PreferSimpleProtocol: true}), nil
	}
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return sqlite.Open(cfg.DSN()), nil
}

// Migrate creates or updates the run, failed-row and checkpoint tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.ClassificationRun{},
		&domain.FailedRow{},
		&domain.CheckpointRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
