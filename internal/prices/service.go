package prices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/btcwatch/internal/metrics"
	"github.com/wnt/btcwatch/internal/models"
	"gorm.io/gorm"
)

// Service persists fetched price history into the database.
type Service struct {
	db        *gorm.DB
	coinGecko *CoinGeckoClient
	binance   *BinanceClient
	logger    zerolog.Logger
}

// NewService creates a price history service.
func NewService(db *gorm.DB, coinGecko *CoinGeckoClient, binance *BinanceClient, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		coinGecko: coinGecko,
		binance:   binance,
		logger:    logger.With().Str("component", "price_service").Logger(),
	}
}

// SyncRecent fetches the last days of daily OHLC data from CoinGecko and
// upserts it. Intended for the regular refresh path.
func (s *Service) SyncRecent(ctx context.Context, currency string, days int) (int, error) {
	points, err := s.coinGecko.FetchDailyOHLC(ctx, currency, days)
	if err != nil {
		return 0, err
	}
	return s.SaveDaily(ctx, points)
}

// Backfill fetches daily klines from Binance for the given range and
// upserts them. Intended for deep history that CoinGecko cannot serve.
func (s *Service) Backfill(ctx context.Context, currency string, start, end time.Time) (int, error) {
	points, err := s.binance.FetchKlines(ctx, BinanceSymbol(currency), currency, start, end)
	if err != nil {
		return 0, err
	}
	return s.SaveDaily(ctx, points)
}

// SaveDaily upserts price points keyed by (currency, day). An existing row
// for the same day gets its OHLC refreshed; otherwise a new row is inserted.
// Returns the number of rows written.
func (s *Service) SaveDaily(ctx context.Context, points []models.PricePoint) (int, error) {
	written := 0

	for _, point := range points {
		point.IsDaily = true
		point.Timestamp = point.Timestamp.UTC().Truncate(24 * time.Hour)

		dayStart := point.Timestamp
		dayEnd := dayStart.Add(24 * time.Hour)

		var existing models.PricePoint
		err := s.db.WithContext(ctx).
			Where("currency = ? AND is_daily = ? AND timestamp >= ? AND timestamp < ?",
				point.Currency, true, dayStart, dayEnd).
			First(&existing).Error

		switch {
		case err == nil:
			updates := map[string]interface{}{
				"price":  point.Price,
				"open":   point.Open,
				"high":   point.High,
				"low":    point.Low,
				"close":  point.Close,
				"source": point.Source,
			}
			if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
				metrics.RecordPricePoint(point.Source, "failed")
				return written, fmt.Errorf("failed to update price point: %w", err)
			}
			metrics.RecordPricePoint(point.Source, "updated")
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := s.db.WithContext(ctx).Create(&point).Error; err != nil {
				metrics.RecordPricePoint(point.Source, "failed")
				return written, fmt.Errorf("failed to insert price point: %w", err)
			}
			metrics.RecordPricePoint(point.Source, "inserted")
		default:
			return written, fmt.Errorf("failed to look up price point: %w", err)
		}

		written++
	}

	s.logger.Info().Int("written", written).Msg("Saved daily price points")
	return written, nil
}

// ClosingPrice returns the daily closing price for the given day and
// currency, or an error when no point covers that day.
func (s *Service) ClosingPrice(ctx context.Context, currency string, day time.Time) (float64, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var point models.PricePoint
	err := s.db.WithContext(ctx).
		Where("currency = ? AND is_daily = ? AND timestamp >= ? AND timestamp < ?",
			currency, true, dayStart, dayEnd).
		First(&point).Error
	if err != nil {
		return 0, fmt.Errorf("no price point for %s on %s: %w", currency, dayStart.Format("2006-01-02"), err)
	}

	return point.Close, nil
}

// LatestPrice returns the most recent daily closing price for the currency.
func (s *Service) LatestPrice(ctx context.Context, currency string) (float64, error) {
	var point models.PricePoint
	err := s.db.WithContext(ctx).
		Where("currency = ? AND is_daily = ?", currency, true).
		Order("timestamp DESC").
		First(&point).Error
	if err != nil {
		return 0, fmt.Errorf("no price history for %s: %w", currency, err)
	}

	return point.Close, nil
}
