package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env vars
	keys := []string{
		"REDIS_URL", "DB_NAME", "DB_HOST", "DB_USER", "DB_PASSWORD",
		"BLOCKCHAIN_API_URL", "IMPORT_PAGE_SIZE", "IMPORT_MAX_PAGES",
		"IMPORT_PAGE_DELAY", "JOB_TIMEOUT", "JOB_MAX_ATTEMPTS",
		"MIN_WORKERS", "MAX_WORKERS", "LOG_LEVEL", "METRICS_PORT",
	}
	originalVars := map[string]string{}
	for _, key := range keys {
		originalVars[key] = os.Getenv(key)
	}

	// Restore env vars after test
	defer func() {
		for key, value := range originalVars {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	setRequired := func() {
		os.Setenv("DB_NAME", "btcwatch")
		os.Setenv("DB_USER", "btcwatch")
	}
	clearAll := func() {
		for _, key := range keys {
			os.Unsetenv(key)
		}
	}

	t.Run("successful load with defaults", func(t *testing.T) {
		clearAll()
		setRequired()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, "https://blockchain.info", cfg.BlockchainAPIURL)
		assert.Equal(t, 50, cfg.ImportPageSize)
		assert.Equal(t, 100, cfg.ImportMaxPages)
		assert.Equal(t, 3*time.Second, cfg.ImportPageDelay)
		assert.Equal(t, time.Hour, cfg.JobTimeout)
		assert.Equal(t, 3, cfg.JobMaxAttempts)
		assert.Equal(t, 2, cfg.MinWorkers)
		assert.Equal(t, 10, cfg.MaxWorkers)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "9100", cfg.MetricsPort)
		assert.Equal(t, 5000, cfg.MaxImportableTransactions())
	})

	t.Run("custom import tunables", func(t *testing.T) {
		clearAll()
		setRequired()
		os.Setenv("IMPORT_PAGE_SIZE", "25")
		os.Setenv("IMPORT_MAX_PAGES", "10")
		os.Setenv("IMPORT_PAGE_DELAY", "500ms")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 25, cfg.ImportPageSize)
		assert.Equal(t, 10, cfg.ImportMaxPages)
		assert.Equal(t, 500*time.Millisecond, cfg.ImportPageDelay)
		assert.Equal(t, 250, cfg.MaxImportableTransactions())
	})

	t.Run("missing required database config", func(t *testing.T) {
		clearAll()

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DB_NAME is required")
	})

	t.Run("invalid worker configuration", func(t *testing.T) {
		clearAll()
		setRequired()
		os.Setenv("MIN_WORKERS", "10")
		os.Setenv("MAX_WORKERS", "2")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MAX_WORKERS must be greater than or equal to MIN_WORKERS")
	})

	t.Run("invalid log level", func(t *testing.T) {
		clearAll()
		setRequired()
		os.Setenv("LOG_LEVEL", "verbose")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid LOG_LEVEL")
	})

	t.Run("malformed integer env", func(t *testing.T) {
		clearAll()
		setRequired()
		os.Setenv("IMPORT_PAGE_SIZE", "fifty")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid IMPORT_PAGE_SIZE")
	})
}
