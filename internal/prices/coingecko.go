package prices

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/btcwatch/internal/models"
)

// CoinGecko's OHLC endpoint caps the day range.
const coinGeckoMaxDays = 90

// CoinGeckoClient fetches Bitcoin OHLC history from the CoinGecko API.
type CoinGeckoClient struct {
	http   *HTTPClient
	logger zerolog.Logger
}

// NewCoinGeckoClient creates a CoinGecko client for the given base URL.
func NewCoinGeckoClient(baseURL string, logger zerolog.Logger) *CoinGeckoClient {
	return &CoinGeckoClient{
		http:   NewHTTPClient(baseURL, WithTimeout(30*time.Second)),
		logger: logger.With().Str("component", "coingecko_client").Logger(),
	}
}

// FetchDailyOHLC returns daily OHLC points for Bitcoin in the given
// currency over the last days. The range is capped at the API's limit.
func (c *CoinGeckoClient) FetchDailyOHLC(ctx context.Context, currency string, days int) ([]models.PricePoint, error) {
	if days > coinGeckoMaxDays {
		days = coinGeckoMaxDays
	}

	params := url.Values{
		"vs_currency": {currency},
		"days":        {strconv.Itoa(days)},
	}

	// Rows are [timestamp_ms, open, high, low, close]
	var rows [][]float64
	if err := c.http.GetJSON(ctx, "/coins/bitcoin/ohlc", params, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch CoinGecko OHLC data: %w", err)
	}

	points := make([]models.PricePoint, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		points = append(points, models.PricePoint{
			Timestamp: time.UnixMilli(int64(row[0])).UTC(),
			Currency:  currency,
			IsDaily:   true,
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Price:     row[4],
			Source:    "coingecko",
		})
	}

	c.logger.Debug().
		Str("currency", currency).
		Int("days", days).
		Int("points", len(points)).
		Msg("Fetched daily OHLC data")

	return points, nil
}
