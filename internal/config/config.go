package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for btcwatch
type Config struct {
	// Redis configuration
	RedisURL string

	// Database configuration
	DBName     string
	DBHost     string
	DBUser     string
	DBPassword string
	DBPort     string
	DBSSLMode  string

	// Explorer API configuration
	BlockchainAPIURL string
	CoinGeckoAPIURL  string
	BinanceAPIURL    string

	// Import configuration
	ImportPageSize  int
	ImportMaxPages  int
	ImportPageDelay time.Duration
	JobTimeout      time.Duration
	JobMaxAttempts  int

	// Worker configuration
	MinWorkers int
	MaxWorkers int

	// Logging configuration
	LogLevel string

	// Metrics configuration
	MetricsPort string
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		DBName:           getEnv("DB_NAME", ""),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBUser:           getEnv("DB_USER", ""),
		DBPassword:       getEnv("DB_PASSWORD", ""),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBSSLMode:        getEnv("DB_SSL_MODE", "disable"),
		BlockchainAPIURL: getEnv("BLOCKCHAIN_API_URL", "https://blockchain.info"),
		CoinGeckoAPIURL:  getEnv("COINGECKO_API_URL", "https://api.coingecko.com/api/v3"),
		BinanceAPIURL:    getEnv("BINANCE_API_URL", "https://api.binance.com/api/v3"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MetricsPort:      getEnv("METRICS_PORT", "9100"),
	}

	var err error
	cfg.ImportPageSize, err = parseIntEnv("IMPORT_PAGE_SIZE", 50)
	if err != nil {
		return cfg, fmt.Errorf("invalid IMPORT_PAGE_SIZE: %w", err)
	}

	cfg.ImportMaxPages, err = parseIntEnv("IMPORT_MAX_PAGES", 100)
	if err != nil {
		return cfg, fmt.Errorf("invalid IMPORT_MAX_PAGES: %w", err)
	}

	cfg.ImportPageDelay, err = parseDurationEnv("IMPORT_PAGE_DELAY", 3*time.Second)
	if err != nil {
		return cfg, fmt.Errorf("invalid IMPORT_PAGE_DELAY: %w", err)
	}

	cfg.JobTimeout, err = parseDurationEnv("JOB_TIMEOUT", time.Hour)
	if err != nil {
		return cfg, fmt.Errorf("invalid JOB_TIMEOUT: %w", err)
	}

	cfg.JobMaxAttempts, err = parseIntEnv("JOB_MAX_ATTEMPTS", 3)
	if err != nil {
		return cfg, fmt.Errorf("invalid JOB_MAX_ATTEMPTS: %w", err)
	}

	cfg.MinWorkers, err = parseIntEnv("MIN_WORKERS", 2)
	if err != nil {
		return cfg, fmt.Errorf("invalid MIN_WORKERS: %w", err)
	}

	cfg.MaxWorkers, err = parseIntEnv("MAX_WORKERS", 10)
	if err != nil {
		return cfg, fmt.Errorf("invalid MAX_WORKERS: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MaxImportableTransactions is the hard ceiling for a full import. Wallets
// reporting more transactions than this are marked truncated without
// fetching a single page.
func (c Config) MaxImportableTransactions() int {
	return c.ImportPageSize * c.ImportMaxPages
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DBName == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if c.DBUser == "" {
		return fmt.Errorf("DB_USER is required")
	}

	if c.BlockchainAPIURL == "" {
		return fmt.Errorf("BLOCKCHAIN_API_URL is required")
	}

	if c.ImportPageSize < 1 {
		return fmt.Errorf("IMPORT_PAGE_SIZE must be at least 1")
	}

	if c.ImportMaxPages < 1 {
		return fmt.Errorf("IMPORT_MAX_PAGES must be at least 1")
	}

	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be at least 1")
	}

	if c.MinWorkers < 1 {
		return fmt.Errorf("MIN_WORKERS must be at least 1")
	}

	if c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("MAX_WORKERS must be greater than or equal to MIN_WORKERS")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an integer environment variable with a default value
func parseIntEnv(key string, defaultValue int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(str)
}

// parseDurationEnv parses a duration environment variable with a default value
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(str)
}
