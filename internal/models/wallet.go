package models

import (
	"time"

	"gorm.io/gorm"
)

// Wallet represents a tracked Bitcoin address
type Wallet struct {
	gorm.Model
	Name    string `gorm:"size:100"`
	Label   string `gorm:"size:100"`
	Address string `gorm:"size:64;uniqueIndex;not null"`

	// Balance in satoshis, as last reported by the explorer API
	Balance int64 `gorm:"default:0"`

	// Counters driven by the import orchestrator
	TotalTransactions    int `gorm:"default:0"`
	ImportedTransactions int `gorm:"default:0"`
	SendTransactions     int `gorm:"default:0"`
	ReceiveTransactions  int `gorm:"default:0"`

	// Stored import state code: 0-100 progress, -1 failed, -2 truncated.
	// Use ImportStateFromStored to interpret it.
	ImportProgress int `gorm:"default:0"`

	// Normalization strategy for this wallet: "netflow" or "ledger"
	Strategy string `gorm:"size:20;default:netflow"`

	LastImportAt *time.Time

	// Relationships
	Transactions []Transaction `gorm:"foreignKey:WalletID;constraint:OnDelete:CASCADE"`
	ImportJobs   []ImportJob   `gorm:"foreignKey:WalletID;constraint:OnDelete:CASCADE"`
}

// ImportState returns the tagged import state for this wallet.
func (w *Wallet) ImportState() ImportState {
	return ImportStateFromStored(w.ImportProgress)
}
