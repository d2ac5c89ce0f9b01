package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/btcwatch/internal/models"
)

// Binance returns at most this many klines per request.
const binanceMaxLimit = 1000

// BinanceSymbol maps a fiat currency code to the Binance trading pair for
// Bitcoin. Binance quotes USD via the USDT pair; other fiat currencies trade
// under their own direct pairs.
func BinanceSymbol(currency string) string {
	if strings.EqualFold(currency, "usd") {
		return "BTCUSDT"
	}
	return "BTC" + strings.ToUpper(currency)
}

// BinanceClient fetches Bitcoin kline (OHLC) history from the Binance API.
type BinanceClient struct {
	http   *HTTPClient
	logger zerolog.Logger
}

// NewBinanceClient creates a Binance client for the given base URL.
func NewBinanceClient(baseURL string, logger zerolog.Logger) *BinanceClient {
	return &BinanceClient{
		http:   NewHTTPClient(baseURL, WithTimeout(60*time.Second)),
		logger: logger.With().Str("component", "binance_client").Logger(),
	}
}

// FetchKlines returns daily OHLC points for the symbol between start and
// end, chunking requests to the API's per-call limit.
func (c *BinanceClient) FetchKlines(ctx context.Context, symbol, currency string, start, end time.Time) ([]models.PricePoint, error) {
	var all []models.PricePoint
	current := start

	for current.Before(end) {
		chunkEnd := current.AddDate(0, 0, binanceMaxLimit-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		points, err := c.fetchChunk(ctx, symbol, currency, current, chunkEnd)
		if err != nil {
			return nil, err
		}
		all = append(all, points...)

		current = chunkEnd.AddDate(0, 0, 1)
	}

	c.logger.Debug().
		Str("symbol", symbol).
		Time("start", start).
		Time("end", end).
		Int("points", len(all)).
		Msg("Fetched klines")

	return all, nil
}

func (c *BinanceClient) fetchChunk(ctx context.Context, symbol, currency string, start, end time.Time) ([]models.PricePoint, error) {
	params := url.Values{
		"symbol":    {symbol},
		"interval":  {"1d"},
		"limit":     {strconv.Itoa(binanceMaxLimit)},
		"startTime": {strconv.FormatInt(start.UnixMilli(), 10)},
		"endTime":   {strconv.FormatInt(end.UnixMilli(), 10)},
	}

	// Each kline is [openTime, "open", "high", "low", "close", ...]
	var rows [][]json.RawMessage
	if err := c.http.GetJSON(ctx, "/klines", params, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch Binance klines: %w", err)
	}

	points := make([]models.PricePoint, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}

		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}

		values := make([]float64, 4)
		ok := true
		for i := 0; i < 4; i++ {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				ok = false
				break
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				ok = false
				break
			}
			values[i] = v
		}
		if !ok {
			continue
		}

		points = append(points, models.PricePoint{
			Timestamp: time.UnixMilli(openTime).UTC(),
			Currency:  currency,
			IsDaily:   true,
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Price:     values[3],
			Source:    "binance",
		})
	}

	return points, nil
}
