// Package store persists transaction rows idempotently. Uniqueness is the
// (wallet_id, tx_hash, type, address) tuple; re-importing an unchanged
// history is a no-op.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wnt/btcwatch/internal/models"
	"gorm.io/gorm"
)

// Store wraps the transaction table with dedup-aware writes.
type Store struct {
	db *gorm.DB
}

// New creates a Store over the given database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts the row unless an identical (wallet, hash, type, address)
// row already exists. A uniqueness violation from a concurrent writer counts
// as already-exists, not an error. Returns whether a row was inserted.
func (s *Store) Upsert(tx *models.Transaction) (bool, error) {
	var count int64
	err := s.db.Model(&models.Transaction{}).
		Where("wallet_id = ? AND tx_hash = ? AND type = ? AND address = ?",
			tx.WalletID, tx.TxHash, tx.Type, tx.Address).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check for existing transaction: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if err := s.db.Create(tx).Error; err != nil {
		if isDuplicateKey(err) {
			// Lost a race with another writer for the same row
			return false, nil
		}
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return true, nil
}

// isDuplicateKey recognizes uniqueness violations across drivers. GORM's
// TranslateError covers postgres; the sqlite driver used in tests reports
// the constraint in the message.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

// CountByWallet returns the number of persisted rows for a wallet.
func (s *Store) CountByWallet(walletID uint) (int, error) {
	var count int64
	err := s.db.Model(&models.Transaction{}).
		Where("wallet_id = ?", walletID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return int(count), nil
}

// CountByWalletAndType returns the number of persisted rows of one type.
func (s *Store) CountByWalletAndType(walletID uint, txType string) (int, error) {
	var count int64
	err := s.db.Model(&models.Transaction{}).
		Where("wallet_id = ? AND type = ?", walletID, txType).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions by type: %w", err)
	}
	return int(count), nil
}

// LatestBlockTime returns the unix timestamp of the most recent stored
// transaction for the wallet, or 0 when none carries a block time. This is
// the watermark for incremental updates.
func (s *Store) LatestBlockTime(walletID uint) (int64, error) {
	var tx models.Transaction
	err := s.db.
		Where("wallet_id = ? AND block_time IS NOT NULL", walletID).
		Order("block_time DESC").
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find latest transaction: %w", err)
	}
	if tx.BlockTime == nil {
		return 0, nil
	}
	return tx.BlockTime.Unix(), nil
}

// TransactionsInOrder returns a wallet's rows ordered by block time
// ascending, for valuation walks.
func (s *Store) TransactionsInOrder(walletID uint) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.
		Where("wallet_id = ? AND block_time IS NOT NULL", walletID).
		Order("block_time ASC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return txs, nil
}

// TouchLastImport stamps the wallet's last import time.
func (s *Store) TouchLastImport(walletID uint, at time.Time) error {
	return s.db.Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Update("last_import_at", at).Error
}
