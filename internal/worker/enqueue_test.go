package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/btcwatch/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Wallet{}))
	return db
}

func TestEnqueueRefusesNonAdmin(t *testing.T) {
	db := testDB(t)
	wallet := &models.Wallet{Address: "1Addr"}
	require.NoError(t, db.Create(wallet).Error)

	// The role check fires before any queue access
	e := NewEnqueuer(db, nil)
	err := e.Enqueue(context.Background(), models.User{Role: models.RoleViewer}, wallet.ID, models.JobTypeImport)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestEnqueueRefusesRunningWallet(t *testing.T) {
	db := testDB(t)
	wallet := &models.Wallet{Address: "1Addr", ImportProgress: 50}
	require.NoError(t, db.Create(wallet).Error)

	e := NewEnqueuer(db, nil)
	err := e.Enqueue(context.Background(), models.User{Role: models.RoleAdmin}, wallet.ID, models.JobTypeImport)
	assert.ErrorIs(t, err, ErrImportInProgress)
}

func TestEnqueueUnknownWallet(t *testing.T) {
	db := testDB(t)

	e := NewEnqueuer(db, nil)
	err := e.Enqueue(context.Background(), models.User{Role: models.RoleAdmin}, 404, models.JobTypeImport)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
