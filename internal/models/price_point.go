package models

import (
	"time"

	"gorm.io/gorm"
)

// PricePoint is one row of Bitcoin price history. Daily rows carry full OHLC
// data; intraday rows may carry only the close (mirrored into Price).
type PricePoint struct {
	gorm.Model
	Timestamp time.Time `gorm:"index:idx_price_history_lookup;not null"`
	Currency  string    `gorm:"size:10;index:idx_price_history_lookup;not null"`
	IsDaily   bool      `gorm:"index:idx_price_history_lookup;default:false"`

	// Price mirrors Close for daily rows, kept for callers that only want a
	// single number per point
	Price float64
	Open  float64
	High  float64
	Low   float64
	Close float64

	// Which upstream produced the row: "coingecko" or "binance"
	Source string `gorm:"size:20"`
}

// TableName pins the legacy table name.
func (PricePoint) TableName() string {
	return "bitcoin_price_history"
}
