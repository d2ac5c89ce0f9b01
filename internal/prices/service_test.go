package prices

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
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

	require.NoError(t, db.AutoMigrate(&models.PricePoint{}))
	return db
}

func testService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	return NewService(db, nil, nil, zerolog.Nop())
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSaveDailyUpserts(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	point := models.PricePoint{
		Timestamp: day(2024, 3, 1),
		Currency:  "usd",
		Open:      61000,
		High:      63000,
		Low:       60500,
		Close:     62000,
		Price:     62000,
		Source:    "coingecko",
	}

	written, err := svc.SaveDaily(ctx, []models.PricePoint{point})
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	// Same day again with fresher numbers updates in place
	point.Close = 62500
	point.Price = 62500
	point.Source = "binance"
	written, err = svc.SaveDaily(ctx, []models.PricePoint{point})
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	var count int64
	require.NoError(t, db.Model(&models.PricePoint{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "re-saving the same day must not duplicate")

	var stored models.PricePoint
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, 62500.0, stored.Close)
	assert.Equal(t, "binance", stored.Source)
}

func TestSaveDailyDistinctDaysAndCurrencies(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	points := []models.PricePoint{
		{Timestamp: day(2024, 3, 1), Currency: "usd", Close: 62000, Price: 62000, Source: "coingecko"},
		{Timestamp: day(2024, 3, 2), Currency: "usd", Close: 63000, Price: 63000, Source: "coingecko"},
		{Timestamp: day(2024, 3, 1), Currency: "eur", Close: 57000, Price: 57000, Source: "coingecko"},
	}

	written, err := svc.SaveDaily(ctx, points)
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	var count int64
	require.NoError(t, db.Model(&models.PricePoint{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestSaveDailyTruncatesToDay(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	// Two intraday timestamps on the same day collapse into one row
	morning := models.PricePoint{
		Timestamp: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Currency:  "usd", Close: 61800, Price: 61800, Source: "coingecko",
	}
	evening := models.PricePoint{
		Timestamp: time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC),
		Currency:  "usd", Close: 62100, Price: 62100, Source: "coingecko",
	}

	_, err := svc.SaveDaily(ctx, []models.PricePoint{morning, evening})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.PricePoint{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stored models.PricePoint
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, 62100.0, stored.Close)
	assert.Equal(t, day(2024, 3, 1).Unix(), stored.Timestamp.Unix())
}

func TestClosingAndLatestPrice(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	points := []models.PricePoint{
		{Timestamp: day(2024, 3, 1), Currency: "usd", Close: 62000, Price: 62000, Source: "coingecko"},
		{Timestamp: day(2024, 3, 2), Currency: "usd", Close: 64000, Price: 64000, Source: "coingecko"},
	}
	_, err := svc.SaveDaily(ctx, points)
	require.NoError(t, err)

	price, err := svc.ClosingPrice(ctx, "usd", time.Date(2024, 3, 1, 15, 45, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 62000.0, price)

	latest, err := svc.LatestPrice(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, 64000.0, latest)

	_, err = svc.ClosingPrice(ctx, "usd", day(2024, 5, 1))
	assert.Error(t, err, "days without history yield an error")
}

func TestCoinGeckoFetchDailyOHLC(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin/ohlc", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "90", r.URL.Query().Get("days"), "requested range is capped at the API limit")

		rows := [][]float64{
			{float64(day(2024, 3, 1).UnixMilli()), 61000, 63000, 60500, 62000},
			{float64(day(2024, 3, 2).UnixMilli()), 62000, 64500, 61800, 64000},
		}
		json.NewEncoder(w).Encode(rows)
	}))
	t.Cleanup(server.Close)

	client := NewCoinGeckoClient(server.URL, zerolog.Nop())
	points, err := client.FetchDailyOHLC(context.Background(), "usd", 365)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, day(2024, 3, 1).Unix(), points[0].Timestamp.Unix())
	assert.Equal(t, 61000.0, points[0].Open)
	assert.Equal(t, 62000.0, points[0].Close)
	assert.Equal(t, 62000.0, points[0].Price)
	assert.Equal(t, "coingecko", points[0].Source)
	assert.True(t, points[0].IsDaily)
}

func TestBinanceSymbol(t *testing.T) {
	tests := []struct {
		currency string
		want     string
	}{
		{"usd", "BTCUSDT"},
		{"USD", "BTCUSDT"},
		{"eur", "BTCEUR"},
		{"gbp", "BTCGBP"},
	}

	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			assert.Equal(t, tt.want, BinanceSymbol(tt.currency))
		})
	}
}

func TestBackfillRequestsMappedSymbol(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"), "usd must map to the USDT pair")
		json.NewEncoder(w).Encode([]interface{}{})
	}))
	t.Cleanup(server.Close)

	db := testDB(t)
	svc := NewService(db, nil, NewBinanceClient(server.URL, zerolog.Nop()), zerolog.Nop())

	written, err := svc.Backfill(context.Background(), "usd", day(2024, 3, 1), day(2024, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, written)
}

func TestBinanceFetchKlines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))

		rows := []interface{}{
			[]interface{}{day(2024, 3, 1).UnixMilli(), "61000.00", "63000.00", "60500.00", "62000.00", "1000", 0},
			[]interface{}{day(2024, 3, 2).UnixMilli(), "62000.00", "64500.00", "61800.00", "64000.00", "900", 0},
		}
		json.NewEncoder(w).Encode(rows)
	}))
	t.Cleanup(server.Close)

	client := NewBinanceClient(server.URL, zerolog.Nop())
	points, err := client.FetchKlines(context.Background(), "BTCUSDT", "usd", day(2024, 3, 1), day(2024, 3, 2))
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, 62000.0, points[0].Close)
	assert.Equal(t, 64000.0, points[1].Close)
	assert.Equal(t, "binance", points[0].Source)
}
