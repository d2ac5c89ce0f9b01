package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/wnt/btcwatch/internal/auth"
	"github.com/wnt/btcwatch/internal/models"
	"github.com/wnt/btcwatch/internal/queue"
	"gorm.io/gorm"
)

// ErrImportInProgress means the wallet already has a running import. The
// queue itself offers no mutual exclusion; this advisory check is the
// caller-side re-entrancy guard.
var ErrImportInProgress = fmt.Errorf("wallet import already in progress")

// ErrNotAuthorized means the acting user's role does not allow triggering
// imports.
var ErrNotAuthorized = fmt.Errorf("user is not allowed to manage wallets")

// Enqueuer submits import jobs after checking the acting user's role and the
// wallet's current state.
type Enqueuer struct {
	db    *gorm.DB
	queue *queue.Client
}

// NewEnqueuer creates an Enqueuer.
func NewEnqueuer(db *gorm.DB, queueClient *queue.Client) *Enqueuer {
	return &Enqueuer{db: db, queue: queueClient}
}

// Enqueue submits a job for the wallet on behalf of the user, refusing while
// an import is already running. Failed and truncated wallets are
// re-enterable: enqueueing again transitions them back through running.
func (e *Enqueuer) Enqueue(ctx context.Context, user models.User, walletID uint, jobType string) error {
	if !auth.CanManageWallets(user) {
		return ErrNotAuthorized
	}

	var wallet models.Wallet
	if err := e.db.First(&wallet, walletID).Error; err != nil {
		return fmt.Errorf("wallet %d not found: %w", walletID, err)
	}

	if wallet.ImportState().Status == models.ImportRunning {
		return ErrImportInProgress
	}

	job := queue.Job{WalletID: walletID, JobType: jobType}
	return e.queue.PushJob(ctx, job, time.Now())
}
