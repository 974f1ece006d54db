package db_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/diewo77/go-heatcrm/internal/db"
	"github.com/diewo77/go-heatcrm/internal/dbtest"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSeedIdempotent(t *testing.T) {
	gdb := dbtest.New(t)

	first, err := db.Seed(gdb)
	require.NoError(t, err)
	catalog, err := db.LoadBoilerCatalog()
	require.NoError(t, err)
	assert.Equal(t, len(catalog), first)

	second, err := db.Seed(gdb)
	require.NoError(t, err)
	assert.Zero(t, second, "second run must not insert")

	var count int64
	gdb.Model(&models.BoilerSpecification{}).Count(&count)
	assert.Equal(t, int64(len(catalog)), count)
}

func TestLoadBoilerCatalog(t *testing.T) {
	catalog, err := db.LoadBoilerCatalog()
	require.NoError(t, err)
	require.NotEmpty(t, catalog)
	for _, b := range catalog {
		assert.NotEmpty(t, b.Manufacturer)
		assert.NotEmpty(t, b.Model)
		require.NotNil(t, b.OutputKW)
		assert.True(t, b.OutputKW.GreaterThan(decimal.Zero), "%s %s output", b.Manufacturer, b.Model)
	}
}

func TestUniqueViolationDetected(t *testing.T) {
	gdb := dbtest.New(t)
	acc := models.Account{Name: "Acme"}
	require.NoError(t, gdb.Create(&acc).Error)

	p := models.Product{AccountID: acc.ID, SKU: "X1", Name: "Boiler", IsActive: true}
	require.NoError(t, gdb.Create(&p).Error)
	dup := models.Product{AccountID: acc.ID, SKU: "X1", Name: "Other", IsActive: true}
	err := gdb.Create(&dup).Error
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err), "got %v", err)

	other := models.Account{Name: "Other"}
	require.NoError(t, gdb.Create(&other).Error)
	sameSKU := models.Product{AccountID: other.ID, SKU: "X1", Name: "Boiler", IsActive: true}
	assert.NoError(t, gdb.Create(&sameSKU).Error, "SKU is unique per account only")
}

func TestErrorClassifiersIgnoreNil(t *testing.T) {
	assert.False(t, db.IsUniqueViolation(nil))
	assert.False(t, db.IsForeignKeyViolation(nil))
	assert.False(t, db.IsNotFound(nil))
}

func TestIsForeignKeyViolation(t *testing.T) {
	assert.True(t, db.IsForeignKeyViolation(gorm.ErrForeignKeyViolated))
	assert.True(t, db.IsForeignKeyViolation(fmt.Errorf("delete product: %w", gorm.ErrForeignKeyViolated)))
	assert.True(t, db.IsForeignKeyViolation(errors.New("FOREIGN KEY constraint failed")))
	assert.False(t, db.IsForeignKeyViolation(gorm.ErrDuplicatedKey))
}

func TestMigrateSqliteFallsBackToAutoMigrate(t *testing.T) {
	gdb := dbtest.New(t)
	for _, table := range []string{"accounts", "quote_sequences", "visit_observations", "audit_logs"} {
		assert.True(t, gdb.Migrator().HasTable(table), table)
	}
}
