package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/wnt/btcwatch/internal/config"
	"github.com/wnt/btcwatch/internal/database"
	"github.com/wnt/btcwatch/internal/logger"
	"github.com/wnt/btcwatch/internal/models"
	"github.com/wnt/btcwatch/internal/normalize"
	"github.com/wnt/btcwatch/internal/prices"
	"github.com/wnt/btcwatch/internal/queue"
	"github.com/wnt/btcwatch/internal/store"
	"github.com/wnt/btcwatch/internal/valuation"
	"github.com/wnt/btcwatch/internal/worker"
	"gorm.io/gorm"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: btcwatchctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  add-user         register an operator account")
	fmt.Fprintln(os.Stderr, "  add-wallet       register a wallet address")
	fmt.Fprintln(os.Stderr, "  enqueue          queue a full import for a wallet")
	fmt.Fprintln(os.Stderr, "  update           queue an incremental update for a wallet")
	fmt.Fprintln(os.Stderr, "  sync-prices      fetch recent daily prices from CoinGecko")
	fmt.Fprintln(os.Stderr, "  backfill-prices  fetch historical daily prices from Binance")
	fmt.Fprintln(os.Stderr, "  valuation        print a wallet's valuation report")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	envFile := fs.String("envFile", ".env", "Path to .env file")
	walletID := fs.Uint("wallet", 0, "Wallet ID")
	address := fs.String("address", "", "Wallet address")
	name := fs.String("name", "", "Wallet name")
	strategy := fs.String("strategy", normalize.StrategyNetFlow, "Normalization strategy (netflow or ledger)")
	email := fs.String("email", "", "Email of the acting operator (or OPERATOR_EMAIL)")
	role := fs.String("role", models.RoleViewer, "Role for add-user (admin or viewer)")
	currency := fs.String("currency", "usd", "Fiat currency")
	days := fs.Int("days", 30, "Days of price history to sync")
	from := fs.String("from", "", "Backfill start date (2006-01-02)")
	to := fs.String("to", "", "Backfill end date (2006-01-02)")
	fs.Parse(os.Args[2:])

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()

	switch command {
	case "add-user":
		if *email == "" {
			log.Fatal("add-user requires -email")
		}
		user := models.User{Email: *email, Name: *name, Role: *role}
		if err := db.Create(&user).Error; err != nil {
			log.Fatalf("Failed to create user: %v", err)
		}
		fmt.Printf("Created %s user %s\n", user.Role, user.Email)

	case "add-wallet":
		if *address == "" {
			log.Fatal("add-wallet requires -address")
		}
		wallet := models.Wallet{
			Name:     *name,
			Address:  *address,
			Strategy: *strategy,
		}
		if err := db.Create(&wallet).Error; err != nil {
			log.Fatalf("Failed to create wallet: %v", err)
		}
		fmt.Printf("Created wallet %d for %s\n", wallet.ID, wallet.Address)

	case "enqueue", "update":
		if *walletID == 0 {
			log.Fatalf("%s requires -wallet", command)
		}
		operator, err := resolveOperator(db, *email)
		if err != nil {
			log.Fatalf("Failed to resolve operator: %v", err)
		}

		queueClient, err := queue.NewClient(cfg.RedisURL, appLogger)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer queueClient.Close()

		jobType := models.JobTypeImport
		if command == "update" {
			jobType = models.JobTypeUpdate
		}
		enqueuer := worker.NewEnqueuer(db, queueClient)
		if err := enqueuer.Enqueue(ctx, operator, *walletID, jobType); err != nil {
			log.Fatalf("Failed to enqueue job: %v", err)
		}
		fmt.Printf("Queued %s for wallet %d\n", jobType, *walletID)

	case "sync-prices":
		svc := priceService(db, cfg, appLogger)
		written, err := svc.SyncRecent(ctx, *currency, *days)
		if err != nil {
			log.Fatalf("Price sync failed: %v", err)
		}
		fmt.Printf("Saved %d price points\n", written)

	case "backfill-prices":
		if *from == "" || *to == "" {
			log.Fatal("backfill-prices requires -from and -to")
		}
		start, err := time.Parse("2006-01-02", *from)
		if err != nil {
			log.Fatalf("Invalid -from date: %v", err)
		}
		end, err := time.Parse("2006-01-02", *to)
		if err != nil {
			log.Fatalf("Invalid -to date: %v", err)
		}
		svc := priceService(db, cfg, appLogger)
		written, err := svc.Backfill(ctx, *currency, start, end)
		if err != nil {
			log.Fatalf("Price backfill failed: %v", err)
		}
		fmt.Printf("Saved %d price points\n", written)

	case "valuation":
		if *walletID == 0 {
			log.Fatal("valuation requires -wallet")
		}
		svc := priceService(db, cfg, appLogger)
		valuer := valuation.New(db, store.New(db), svc, appLogger)
		report, err := valuer.Valuation(ctx, *walletID, *currency)
		if err != nil {
			log.Fatalf("Valuation failed: %v", err)
		}
		if report == nil {
			fmt.Println("Wallet has no open position")
			return
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode report: %v", err)
		}
		fmt.Println(string(out))

	default:
		usage()
	}
}

// resolveOperator loads the acting user by the -email flag or the
// OPERATOR_EMAIL environment variable.
func resolveOperator(db *gorm.DB, email string) (models.User, error) {
	if email == "" {
		email = os.Getenv("OPERATOR_EMAIL")
	}
	if email == "" {
		return models.User{}, fmt.Errorf("no operator given: pass -email or set OPERATOR_EMAIL")
	}

	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return models.User{}, fmt.Errorf("operator %s not found: %w", email, err)
	}
	return user, nil
}

func priceService(db *gorm.DB, cfg config.Config, appLogger zerolog.Logger) *prices.Service {
	coinGecko := prices.NewCoinGeckoClient(cfg.CoinGeckoAPIURL, appLogger)
	binance := prices.NewBinanceClient(cfg.BinanceAPIURL, appLogger)
	return prices.NewService(db, coinGecko, binance, appLogger)
}
