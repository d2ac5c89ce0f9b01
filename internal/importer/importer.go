// Package importer drives the paginated, rate-limited, idempotent ingestion
// of a wallet's transaction history and the incremental update flow.
package importer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wnt/btcwatch/internal/blockchain"
	"github.com/wnt/btcwatch/internal/logger"
	"github.com/wnt/btcwatch/internal/metrics"
	"github.com/wnt/btcwatch/internal/models"
	"github.com/wnt/btcwatch/internal/normalize"
	"github.com/wnt/btcwatch/internal/store"
	"gorm.io/gorm"
)

// ExplorerClient is the slice of the blockchain client the importer needs.
type ExplorerClient interface {
	GetBalance(ctx context.Context, address string) (int64, error)
	GetTransactionCount(ctx context.Context, address string) (int, error)
	GetTransactions(ctx context.Context, address string, limit, offset int) ([]blockchain.RawTransaction, error)
	GetTransactionsAfter(ctx context.Context, address string, since int64) ([]blockchain.RawTransaction, error)
}

// Config holds the import tunables. MaxPages*PageSize is the hard ceiling: a
// cost safety valve, not a correctness requirement.
type Config struct {
	PageSize  int
	MaxPages  int
	PageDelay time.Duration
}

// DefaultConfig mirrors the explorer's informal limits: 50 per page, 100
// pages, 3s between pages.
func DefaultConfig() Config {
	return Config{
		PageSize:  50,
		MaxPages:  100,
		PageDelay: 3 * time.Second,
	}
}

// Importer is the orchestrator. One instance serves many wallets; each run
// is sequential over its wallet's pages and owns that wallet's counters.
type Importer struct {
	db     *gorm.DB
	store  *store.Store
	client ExplorerClient
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
	logger zerolog.Logger
}

// New creates an Importer.
func New(db *gorm.DB, client ExplorerClient, cfg Config, log zerolog.Logger) *Importer {
	if cfg.PageSize < 1 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	return &Importer{
		db:     db,
		store:  store.New(db),
		client: client,
		cfg:    cfg,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		logger: log.With().Str("component", "importer").Logger(),
	}
}

// SetSleep replaces the inter-page delay sleep. Tests inject a no-op.
func (i *Importer) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	i.sleep = sleep
}

// maxImportable is the transaction-count ceiling for a full import.
func (i *Importer) maxImportable() int {
	return i.cfg.PageSize * i.cfg.MaxPages
}

// RunFullImport executes the full paginated import for a wallet. Failures
// inside the page loop are terminal for the run but not re-raised: the
// wallet's failed state is the durable signal. Partial progress stays
// persisted; the idempotent upsert makes a re-run safe.
func (i *Importer) RunFullImport(ctx context.Context, walletID uint) error {
	wallet, err := i.loadWallet(walletID)
	if err != nil {
		return err
	}

	log := logger.WithWallet(i.logger, wallet.Address)
	job := i.startJob(wallet.ID, models.JobTypeImport)
	started := time.Now()

	total, err := i.client.GetTransactionCount(ctx, wallet.Address)
	if err != nil {
		i.markFailed(wallet, job, err, log)
		metrics.RecordImportOutcome(models.JobTypeImport, "failed")
		return nil
	}

	if total > i.maxImportable() {
		log.Warn().
			Int("total_transactions", total).
			Int("max_importable", i.maxImportable()).
			Msg("Import cancelled: transaction count exceeds ceiling")

		now := time.Now().UTC()
		i.updateWallet(wallet, map[string]interface{}{
			"total_transactions":    total,
			"imported_transactions": 0,
			"import_progress":       models.ImportState{Status: models.ImportTruncated}.StoredProgress(),
			"last_import_at":        now,
		})
		i.finishJob(job, models.JobStatusCompleted, "", total, 0, 0, 0)
		metrics.RecordImportOutcome(models.JobTypeImport, "truncated")
		return nil
	}

	// Enter the running state and record the observed total
	now := time.Now().UTC()
	i.updateWallet(wallet, map[string]interface{}{
		"total_transactions":    total,
		"imported_transactions": 0,
		"import_progress":       0,
		"last_import_at":        now,
	})

	log.Info().
		Int("total_transactions", total).
		Int("page_size", i.cfg.PageSize).
		Msg("Starting full import")

	imported, sendCount, receiveCount, loopErr := i.importPages(ctx, wallet, job, total, log)

	if loopErr != nil {
		i.markFailed(wallet, job, loopErr, log)
		metrics.RecordImportOutcome(models.JobTypeImport, "failed")
	} else {
		nowDone := time.Now().UTC()
		i.updateWallet(wallet, map[string]interface{}{
			"import_progress": 100,
			"last_import_at":  nowDone,
		})
		i.finishJob(job, models.JobStatusCompleted, "", total, imported, sendCount, receiveCount)
		metrics.RecordImportOutcome(models.JobTypeImport, "completed")
		log.Info().
			Int("imported", imported).
			Int("total_transactions", total).
			Dur("duration", time.Since(started)).
			Msg("Full import completed")
	}

	metrics.RecordImportDuration(models.JobTypeImport, time.Since(started).Seconds())

	// Best-effort balance refresh once any transactions exist; a failure
	// here never changes the import outcome
	if count, err := i.store.CountByWallet(wallet.ID); err == nil && count > 0 {
		i.refreshBalance(ctx, wallet, log)
	}

	return nil
}

// importPages runs the page loop, returning the final persisted count and
// per-type counts. Pages are fetched strictly in increasing offset order.
func (i *Importer) importPages(ctx context.Context, wallet *models.Wallet, job *models.ImportJob, total int, log zerolog.Logger) (imported, sendCount, receiveCount int, err error) {
	strategy := normalize.ForName(wallet.Strategy)

	for page := 0; page < i.cfg.MaxPages; page++ {
		// Cancellation is checked once per page boundary; a cancelled run
		// leaves partial-but-consistent state behind
		if err := ctx.Err(); err != nil {
			return imported, sendCount, receiveCount, err
		}

		if page > 0 && i.cfg.PageDelay > 0 {
			if err := i.sleep(ctx, i.cfg.PageDelay); err != nil {
				return imported, sendCount, receiveCount, err
			}
		}

		txs, err := i.client.GetTransactions(ctx, wallet.Address, i.cfg.PageSize, page*i.cfg.PageSize)
		if err != nil {
			return imported, sendCount, receiveCount, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		metrics.PagesFetched.Inc()

		if len(txs) == 0 {
			break
		}

		for _, raw := range txs {
			for _, row := range strategy.Normalize(wallet.Address, raw) {
				row.WalletID = wallet.ID
				inserted, err := i.store.Upsert(&row)
				if err != nil {
					metrics.RecordTransactionImported("failed")
					return imported, sendCount, receiveCount, fmt.Errorf("failed to persist transaction %s: %w", row.TxHash, err)
				}
				if inserted {
					metrics.RecordTransactionImported("inserted")
				} else {
					metrics.RecordTransactionImported("duplicate")
				}
			}
		}

		// Progress is derived from the actual persisted count, which
		// self-corrects when a transaction normalizes into several rows
		imported, err = i.store.CountByWallet(wallet.ID)
		if err != nil {
			return imported, sendCount, receiveCount, err
		}
		sendCount, _ = i.store.CountByWalletAndType(wallet.ID, models.TxTypeSend)
		receiveCount, _ = i.store.CountByWalletAndType(wallet.ID, models.TxTypeReceive)

		progress := progressPercent(imported, total)
		i.updateWallet(wallet, map[string]interface{}{
			"imported_transactions": imported,
			"import_progress":       models.ImportState{Status: models.ImportRunning, Percent: progress}.StoredProgress(),
			"send_transactions":     sendCount,
			"receive_transactions":  receiveCount,
		})
		if err := i.db.Model(job).Updates(map[string]interface{}{
			"progress":              progress,
			"imported_transactions": imported,
		}).Error; err != nil {
			i.logger.Error().Err(err).Uint("wallet_id", wallet.ID).Msg("Failed to persist import job progress")
		}

		if (page+1)%5 == 0 {
			log.Info().
				Int("page", page+1).
				Int("imported", imported).
				Int("total_transactions", total).
				Int("progress", progress).
				Msg("Import progress")
		}

		// A short page signals the end of the history
		if len(txs) < i.cfg.PageSize {
			break
		}
	}

	return imported, sendCount, receiveCount, nil
}

// RunUpdate executes the incremental update flow: fetch only transactions
// newer than the stored watermark and add their counts to the wallet's
// cumulative counters. Unlike the full import, failures propagate so the
// execution shell's retry policy can engage.
func (i *Importer) RunUpdate(ctx context.Context, walletID uint) error {
	wallet, err := i.loadWallet(walletID)
	if err != nil {
		return err
	}

	log := logger.WithWallet(i.logger, wallet.Address)
	job := i.startJob(wallet.ID, models.JobTypeUpdate)
	started := time.Now()

	runErr := i.runUpdate(ctx, wallet, job, log)
	metrics.RecordImportDuration(models.JobTypeUpdate, time.Since(started).Seconds())

	if runErr != nil {
		i.finishJob(job, models.JobStatusFailed, runErr.Error(), 0, 0, 0, 0)
		metrics.RecordImportOutcome(models.JobTypeUpdate, "failed")
		log.Error().Err(runErr).Msg("Update failed")
		return runErr
	}

	metrics.RecordImportOutcome(models.JobTypeUpdate, "completed")
	return nil
}

func (i *Importer) runUpdate(ctx context.Context, wallet *models.Wallet, job *models.ImportJob, log zerolog.Logger) error {
	watermark, err := i.store.LatestBlockTime(wallet.ID)
	if err != nil {
		return err
	}

	log.Debug().Int64("watermark", watermark).Msg("Fetching transactions after watermark")

	newTxs, err := i.client.GetTransactionsAfter(ctx, wallet.Address, watermark)
	if err != nil {
		return err
	}

	if len(newTxs) == 0 {
		log.Info().Msg("No new transactions found")
		if err := i.updateBalance(ctx, wallet); err != nil {
			return err
		}
		if err := i.store.TouchLastImport(wallet.ID, time.Now().UTC()); err != nil {
			return err
		}
		i.finishJob(job, models.JobStatusCompleted, "", 0, 0, 0, 0)
		return nil
	}

	log.Info().Int("count", len(newTxs)).Msg("New transactions found")

	strategy := normalize.ForName(wallet.Strategy)
	importedCount := 0
	sendCount := 0
	receiveCount := 0

	for _, raw := range newTxs {
		for _, row := range strategy.Normalize(wallet.Address, raw) {
			row.WalletID = wallet.ID
			inserted, err := i.store.Upsert(&row)
			if err != nil {
				return fmt.Errorf("failed to persist transaction %s: %w", row.TxHash, err)
			}
			if !inserted {
				metrics.RecordTransactionImported("duplicate")
				continue
			}
			metrics.RecordTransactionImported("inserted")
			importedCount++
			switch row.Type {
			case models.TxTypeSend:
				sendCount++
			case models.TxTypeReceive:
				receiveCount++
			}
		}
	}

	// Cumulative counters: add the delta, never recompute from a full scan
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"imported_transactions": wallet.ImportedTransactions + importedCount,
		"send_transactions":     wallet.SendTransactions + sendCount,
		"receive_transactions":  wallet.ReceiveTransactions + receiveCount,
		"last_import_at":        now,
	}
	if balance, err := i.client.GetBalance(ctx, wallet.Address); err == nil {
		updates["balance"] = balance
	} else {
		return err
	}
	if err := i.db.Model(wallet).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update wallet counters: %w", err)
	}

	i.finishJob(job, models.JobStatusCompleted, "", len(newTxs), importedCount, sendCount, receiveCount)

	log.Info().
		Int("new_transactions", importedCount).
		Int("total_imported", wallet.ImportedTransactions+importedCount).
		Msg("Update completed")

	return nil
}

// updateWallet persists wallet state. Writes on the full-import path carry
// the durable progress signal, so a failed write must at least leave a trace
// in the logs.
func (i *Importer) updateWallet(wallet *models.Wallet, updates map[string]interface{}) {
	if err := i.db.Model(wallet).Updates(updates).Error; err != nil {
		i.logger.Error().Err(err).Uint("wallet_id", wallet.ID).Msg("Failed to persist wallet state")
	}
}

func (i *Importer) loadWallet(walletID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := i.db.First(&wallet, walletID).Error; err != nil {
		return nil, fmt.Errorf("wallet %d not found: %w", walletID, err)
	}
	return &wallet, nil
}

// startJob records the beginning of a run.
func (i *Importer) startJob(walletID uint, jobType string) *models.ImportJob {
	now := time.Now().UTC()
	job := &models.ImportJob{
		RunID:     uuid.NewString(),
		WalletID:  walletID,
		JobType:   jobType,
		Status:    models.JobStatusRunning,
		StartedAt: &now,
	}
	if err := i.db.Create(job).Error; err != nil {
		i.logger.Error().Err(err).Uint("wallet_id", walletID).Msg("Failed to create import job record")
	}
	return job
}

// finishJob finalizes a run's audit record. The record is immutable after
// this.
func (i *Importer) finishJob(job *models.ImportJob, status, errMsg string, total, imported, send, receive int) {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":                status,
		"completed_at":          now,
		"total_transactions":    total,
		"imported_transactions": imported,
		"send_transactions":     send,
		"receive_transactions":  receive,
	}
	if status == models.JobStatusCompleted {
		updates["progress"] = 100
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	if err := i.db.Model(job).Updates(updates).Error; err != nil {
		i.logger.Error().Err(err).Uint("wallet_id", job.WalletID).Msg("Failed to finalize import job record")
	}
}

// markFailed persists the failed state on wallet and job. The stored -1 is
// the durable error signal for later inspection and explicit re-trigger.
func (i *Importer) markFailed(wallet *models.Wallet, job *models.ImportJob, cause error, log zerolog.Logger) {
	log.Error().Err(cause).Uint("wallet_id", wallet.ID).Msg("Import failed")
	now := time.Now().UTC()
	i.updateWallet(wallet, map[string]interface{}{
		"import_progress": models.ImportState{Status: models.ImportFailed}.StoredProgress(),
		"last_import_at":  now,
	})
	i.finishJob(job, models.JobStatusFailed, cause.Error(), wallet.TotalTransactions, 0, 0, 0)
}

// refreshBalance updates the wallet balance from the explorer, swallowing
// failures.
func (i *Importer) refreshBalance(ctx context.Context, wallet *models.Wallet, log zerolog.Logger) {
	if err := i.updateBalance(ctx, wallet); err != nil {
		log.Error().Err(err).Msg("Failed to refresh balance after import")
	}
}

func (i *Importer) updateBalance(ctx context.Context, wallet *models.Wallet) error {
	balance, err := i.client.GetBalance(ctx, wallet.Address)
	if err != nil {
		return err
	}
	return i.db.Model(wallet).Update("balance", balance).Error
}

// progressPercent computes round(min(100, imported/total*100)).
func progressPercent(imported, total int) int {
	if total <= 0 {
		return 0
	}
	p := math.Round(math.Min(100, float64(imported)/float64(total)*100))
	return int(p)
}
