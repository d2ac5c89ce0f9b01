package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wnt/btcwatch/internal/blockchain"
	"github.com/wnt/btcwatch/internal/config"
	"github.com/wnt/btcwatch/internal/database"
	"github.com/wnt/btcwatch/internal/importer"
	"github.com/wnt/btcwatch/internal/logger"
	"github.com/wnt/btcwatch/internal/queue"
	"github.com/wnt/btcwatch/internal/worker"
)

func main() {
	// Parse command-line arguments
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	// Load environment variables from the specified file
	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info().Msg("Starting btcwatch")

	db, err := database.Connect(cfg)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("Failed to connect to database")
	}

	queueClient, err := queue.NewClient(cfg.RedisURL, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer queueClient.Close()

	explorer := blockchain.NewClient(cfg.BlockchainAPIURL, appLogger,
		blockchain.WithPaging(cfg.ImportPageSize, cfg.ImportMaxPages))

	imp := importer.New(db, explorer, importer.Config{
		PageSize:  cfg.ImportPageSize,
		MaxPages:  cfg.ImportMaxPages,
		PageDelay: cfg.ImportPageDelay,
	}, appLogger)

	manager := worker.NewManager(cfg, queueClient, imp, appLogger)
	if err := manager.Start(); err != nil {
		appLogger.Fatal().Err(err).Msg("Failed to start worker manager")
	}

	// Expose metrics and health endpoints
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: mux,
	}
	go func() {
		appLogger.Info().Str("port", cfg.MetricsPort).Msg("Metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("Metrics server shutdown failed")
	}
	if err := manager.Stop(); err != nil {
		appLogger.Error().Err(err).Msg("Worker manager shutdown failed")
	}

	appLogger.Info().Msg("Shutdown complete")
}
