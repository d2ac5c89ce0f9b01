package valuation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnt/btcwatch/internal/models"
	"github.com/wnt/btcwatch/internal/prices"
	"github.com/wnt/btcwatch/internal/store"
	"gorm.io/gorm"
)

// Report summarizes a wallet's position against historical prices.
type Report struct {
	WalletID         uint            `json:"wallet_id"`
	Currency         string          `json:"currency"`
	BoughtBTC        decimal.Decimal `json:"bought_btc"`
	SoldBTC          decimal.Decimal `json:"sold_btc"`
	NetBTC           decimal.Decimal `json:"net_btc"`
	CostBasis        decimal.Decimal `json:"cost_basis"`
	AvgPurchasePrice decimal.Decimal `json:"avg_purchase_price"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	CurrentValue     decimal.Decimal `json:"current_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	PriceChangePct   decimal.Decimal `json:"price_change_pct"`
	SkippedTxs       int             `json:"skipped_txs"`
}

// Valuer computes wallet valuations from imported transactions and the
// stored price history.
type Valuer struct {
	db     *gorm.DB
	store  *store.Store
	prices *prices.Service
	logger zerolog.Logger
}

// New creates a Valuer.
func New(db *gorm.DB, txStore *store.Store, priceService *prices.Service, logger zerolog.Logger) *Valuer {
	return &Valuer{
		db:     db,
		store:  txStore,
		prices: priceService,
		logger: logger.With().Str("component", "valuation").Logger(),
	}
}

var satoshisPerBTC = decimal.NewFromInt(100_000_000)

// Valuation walks the wallet's transactions in chronological order, pricing
// each at its day's closing price, and returns the resulting position. A
// wallet whose net balance is zero or negative has no open position and
// yields a nil report. Transactions without a block time or without a price
// point for their day are skipped and counted.
func (v *Valuer) Valuation(ctx context.Context, walletID uint, currency string) (*Report, error) {
	var wallet models.Wallet
	if err := v.db.First(&wallet, walletID).Error; err != nil {
		return nil, fmt.Errorf("wallet %d not found: %w", walletID, err)
	}

	txs, err := v.store.TransactionsInOrder(walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	boughtBTC := decimal.Zero
	boughtCost := decimal.Zero
	soldBTC := decimal.Zero
	skipped := 0

	for _, tx := range txs {
		if tx.BlockTime == nil {
			skipped++
			continue
		}

		price, err := v.prices.ClosingPrice(ctx, currency, *tx.BlockTime)
		if err != nil {
			skipped++
			continue
		}

		amount := decimal.NewFromInt(tx.Value).Div(satoshisPerBTC)
		priceDec := decimal.NewFromFloat(price)

		switch tx.Type {
		case models.TxTypeReceive:
			boughtBTC = boughtBTC.Add(amount)
			boughtCost = boughtCost.Add(amount.Mul(priceDec))
		case models.TxTypeSend:
			soldBTC = soldBTC.Add(amount)
		case models.TxTypeOutput:
			// Ledger rows exist for counterparty entries too; only the
			// wallet's own entries move its position
			if tx.Address == wallet.Address {
				boughtBTC = boughtBTC.Add(amount)
				boughtCost = boughtCost.Add(amount.Mul(priceDec))
			}
		case models.TxTypeInput:
			if tx.Address == wallet.Address {
				soldBTC = soldBTC.Add(amount)
			}
		}
	}

	netBTC := boughtBTC.Sub(soldBTC)
	if !netBTC.IsPositive() {
		v.logger.Debug().
			Uint("wallet_id", walletID).
			Str("net_btc", netBTC.String()).
			Msg("Wallet has no open position")
		return nil, nil
	}

	avgPrice := decimal.Zero
	if boughtBTC.IsPositive() {
		avgPrice = boughtCost.Div(boughtBTC)
	}

	latest, err := v.prices.LatestPrice(ctx, currency)
	if err != nil {
		return nil, err
	}
	currentPrice := decimal.NewFromFloat(latest)

	costBasis := netBTC.Mul(avgPrice)
	currentValue := netBTC.Mul(currentPrice)

	changePct := decimal.Zero
	if avgPrice.IsPositive() {
		changePct = currentPrice.Sub(avgPrice).Div(avgPrice).Mul(decimal.NewFromInt(100))
	}

	report := &Report{
		WalletID:         walletID,
		Currency:         currency,
		BoughtBTC:        boughtBTC,
		SoldBTC:          soldBTC,
		NetBTC:           netBTC,
		CostBasis:        costBasis,
		AvgPurchasePrice: avgPrice,
		CurrentPrice:     currentPrice,
		CurrentValue:     currentValue,
		UnrealizedPnL:    currentValue.Sub(costBasis),
		PriceChangePct:   changePct,
		SkippedTxs:       skipped,
	}

	v.logger.Info().
		Uint("wallet_id", walletID).
		Str("net_btc", netBTC.String()).
		Str("current_value", currentValue.StringFixed(2)).
		Int("skipped", skipped).
		Msg("Computed wallet valuation")

	return report, nil
}
