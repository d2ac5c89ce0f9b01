package store

import (
	"testing"
	"time"

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

	require.NoError(t, db.AutoMigrate(&models.Wallet{}, &models.Transaction{}, &models.ImportJob{}))
	return db
}

func testWallet(t *testing.T, db *gorm.DB, address string) *models.Wallet {
	t.Helper()
	wallet := &models.Wallet{Address: address, Strategy: "netflow"}
	require.NoError(t, db.Create(wallet).Error)
	return wallet
}

func tx(walletID uint, hash, txType, address string, value int64, blockTime time.Time) *models.Transaction {
	bt := blockTime.UTC()
	return &models.Transaction{
		WalletID:  walletID,
		TxHash:    hash,
		Type:      txType,
		Address:   address,
		Value:     value,
		BlockTime: &bt,
	}
}

func TestUpsertIdempotent(t *testing.T) {
	db := testDB(t)
	wallet := testWallet(t, db, "1Addr")
	s := New(db)

	now := time.Now()

	inserted, err := s.Upsert(tx(wallet.ID, "hash1", models.TxTypeSend, "1Dest", 100, now))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same (wallet, hash, type, address) again is a no-op
	inserted, err = s.Upsert(tx(wallet.ID, "hash1", models.TxTypeSend, "1Dest", 100, now))
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := s.CountByWallet(wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertDedupKeyScopedToAddress(t *testing.T) {
	db := testDB(t)
	wallet := testWallet(t, db, "1Addr")
	s := New(db)

	now := time.Now()

	// Same hash and type against a different address is a distinct row
	inserted, err := s.Upsert(tx(wallet.ID, "hash1", models.TxTypeOutput, "1A", 100, now))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Upsert(tx(wallet.ID, "hash1", models.TxTypeOutput, "1B", 200, now))
	require.NoError(t, err)
	assert.True(t, inserted)

	count, err := s.CountByWallet(wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertScopedToWallet(t *testing.T) {
	db := testDB(t)
	w1 := testWallet(t, db, "1First")
	w2 := testWallet(t, db, "1Second")
	s := New(db)

	now := time.Now()

	inserted, err := s.Upsert(tx(w1.ID, "hash1", models.TxTypeSend, "1Dest", 100, now))
	require.NoError(t, err)
	assert.True(t, inserted)

	// The same row for another wallet is independent
	inserted, err = s.Upsert(tx(w2.ID, "hash1", models.TxTypeSend, "1Dest", 100, now))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestCountByWalletAndType(t *testing.T) {
	db := testDB(t)
	wallet := testWallet(t, db, "1Addr")
	s := New(db)

	now := time.Now()
	_, err := s.Upsert(tx(wallet.ID, "h1", models.TxTypeSend, "1A", 1, now))
	require.NoError(t, err)
	_, err = s.Upsert(tx(wallet.ID, "h2", models.TxTypeReceive, "1B", 2, now))
	require.NoError(t, err)
	_, err = s.Upsert(tx(wallet.ID, "h3", models.TxTypeReceive, "1C", 3, now))
	require.NoError(t, err)

	sends, err := s.CountByWalletAndType(wallet.ID, models.TxTypeSend)
	require.NoError(t, err)
	assert.Equal(t, 1, sends)

	receives, err := s.CountByWalletAndType(wallet.ID, models.TxTypeReceive)
	require.NoError(t, err)
	assert.Equal(t, 2, receives)
}

func TestLatestBlockTime(t *testing.T) {
	db := testDB(t)
	wallet := testWallet(t, db, "1Addr")
	s := New(db)

	watermark, err := s.LatestBlockTime(wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), watermark, "no rows means zero watermark")

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err = s.Upsert(tx(wallet.ID, "h1", models.TxTypeSend, "1A", 1, older))
	require.NoError(t, err)
	_, err = s.Upsert(tx(wallet.ID, "h2", models.TxTypeReceive, "1B", 2, newer))
	require.NoError(t, err)

	watermark, err = s.LatestBlockTime(wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.Unix(), watermark)
}

func TestTransactionsInOrder(t *testing.T) {
	db := testDB(t)
	wallet := testWallet(t, db, "1Addr")
	s := New(db)

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	second := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	third := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of order
	_, err := s.Upsert(tx(wallet.ID, "h3", models.TxTypeSend, "1C", 3, third))
	require.NoError(t, err)
	_, err = s.Upsert(tx(wallet.ID, "h1", models.TxTypeReceive, "1A", 1, first))
	require.NoError(t, err)
	_, err = s.Upsert(tx(wallet.ID, "h2", models.TxTypeReceive, "1B", 2, second))
	require.NoError(t, err)

	txs, err := s.TransactionsInOrder(wallet.ID)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "h1", txs[0].TxHash)
	assert.Equal(t, "h2", txs[1].TxHash)
	assert.Equal(t, "h3", txs[2].TxHash)
}

func TestTouchLastImport(t *testing.T) {
	db := testDB(t)
	wallet := testWallet(t, db, "1Addr")
	s := New(db)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchLastImport(wallet.ID, at))

	var reloaded models.Wallet
	require.NoError(t, db.First(&reloaded, wallet.ID).Error)
	require.NotNil(t, reloaded.LastImportAt)
	assert.Equal(t, at.Unix(), reloaded.LastImportAt.Unix())
}
