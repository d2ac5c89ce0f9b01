package database

import (
	"fmt"
	"time"

	"github.com/wnt/btcwatch/internal/config"
	"github.com/wnt/btcwatch/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)

	// Configure GORM with optimized settings
	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		PrepareStmt:    true,
		TranslateError: true, // surface duplicate keys as gorm.ErrDuplicatedKey
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Migrate database schema
	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the schema for all models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Wallet{},
		&models.Transaction{},
		&models.ImportJob{},
		&models.PricePoint{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Composite indexes for common query patterns
	db.Exec("CREATE INDEX IF NOT EXISTS idx_transactions_wallet_blocktime ON transactions(wallet_id, block_time)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_import_jobs_wallet_status ON import_jobs(wallet_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_price_history_daily_lookup ON bitcoin_price_history(currency, is_daily, timestamp)")

	return nil
}
