package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/diewo77/go-heatcrm/internal/config"
	"github.com/diewo77/go-heatcrm/internal/models"
	migrate "github.com/golang-migrate/migrate/v4"
	// Registers the postgres:// database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// requiredTables must exist whichever migration path ran.
var requiredTables = []string{"accounts", "users", "customers", "quotes", "quote_lines", "visit_sessions"}

// Migrate brings the schema up to date. With cfg.Migrations on Postgres it
// applies the embedded SQL files; otherwise it falls back to AutoMigrate.
func Migrate(db *gorm.DB, cfg config.DatabaseConfig) error {
	if cfg.Migrations && cfg.Driver == "postgres" {
		if err := RunSQLMigrations(ToURLDSN(NormalizeDSN(cfg.DSN))); err != nil {
			return fmt.Errorf("sql migrations: %w", err)
		}
	} else {
		if cfg.Migrations {
			slog.Warn("SQL migrations are Postgres-only, using AutoMigrate", "driver", cfg.Driver)
		}
		if err := AutoMigrate(db); err != nil {
			return err
		}
	}
	for _, table := range requiredTables {
		if !db.Migrator().HasTable(table) {
			return errors.New("missing table after migration: " + table)
		}
	}
	return nil
}

// AutoMigrate creates or updates every model table.
func AutoMigrate(db *gorm.DB) error {
	for _, m := range models.All() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	return nil
}

// RunSQLMigrations applies the embedded migrations with golang-migrate.
func RunSQLMigrations(urlDSN string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, urlDSN)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	version, dirty, _ := m.Version()
	slog.Info("sql migrations applied", "version", version, "dirty", dirty)
	return nil
}
