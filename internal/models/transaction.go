package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction type values. A wallet's rows use either the send/receive pair
// (netflow strategy) or the input/output pair (ledger strategy).
const (
	TxTypeSend    = "send"
	TxTypeReceive = "receive"
	TxTypeInput   = "input"
	TxTypeOutput  = "output"
)

// Transaction is one persisted record of value movement for a wallet.
// A single blockchain transaction may produce several rows per wallet, so
// uniqueness is scoped to (wallet_id, tx_hash, type, address), not the hash
// alone.
type Transaction struct {
	gorm.Model
	WalletID    uint   `gorm:"index;not null;uniqueIndex:idx_transactions_dedup"`
	TxHash      string `gorm:"size:64;not null;uniqueIndex:idx_transactions_dedup"`
	Type        string `gorm:"size:10;index;not null;uniqueIndex:idx_transactions_dedup"`
	Address     string `gorm:"size:64;not null;uniqueIndex:idx_transactions_dedup"`
	BlockHeight *int64 `gorm:"index"`
	TxIndex     *int64

	// Value in satoshis
	Value int64

	RawData   []byte     `gorm:"type:jsonb"`
	BlockTime *time.Time `gorm:"index"`

	// Relationships
	Wallet Wallet `gorm:"foreignKey:WalletID"`
}

// BTCValue converts the satoshi value to BTC.
func (t *Transaction) BTCValue() float64 {
	return float64(t.Value) / 1e8
}
