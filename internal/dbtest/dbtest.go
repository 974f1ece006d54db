// Package dbtest opens throwaway databases for tests.
package dbtest

import (
	"strings"
	"testing"

	"github.com/diewo77/go-heatcrm/internal/config"
	"github.com/diewo77/go-heatcrm/internal/db"
	"gorm.io/gorm"
)

// New returns a migrated in-memory sqlite database private to t.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + name + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}
