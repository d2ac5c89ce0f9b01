package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/btcwatch/internal/logger"
	"github.com/wnt/btcwatch/internal/metrics"
	"github.com/wnt/btcwatch/internal/models"
	"github.com/wnt/btcwatch/internal/queue"
)

// Backoff schedule between attempts of a failed job.
var retryBackoff = []time.Duration{time.Minute, 5 * time.Minute, 10 * time.Minute}

// Runner executes import work. Satisfied by *importer.Importer.
type Runner interface {
	RunFullImport(ctx context.Context, walletID uint) error
	RunUpdate(ctx context.Context, walletID uint) error
}

// Worker processes import jobs one at a time. Each job gets a bounded
// number of attempts with a long per-attempt timeout; failed attempts are
// re-queued with backoff instead of blocking the worker.
type Worker struct {
	id          string
	queue       *queue.Client
	runner      Runner
	jobTimeout  time.Duration
	maxAttempts int
	logger      zerolog.Logger
	stopped     bool
}

// NewWorker creates a new worker instance
func NewWorker(id string, queueClient *queue.Client, runner Runner, jobTimeout time.Duration, maxAttempts int, baseLogger zerolog.Logger) *Worker {
	return &Worker{
		id:          id,
		queue:       queueClient,
		runner:      runner,
		jobTimeout:  jobTimeout,
		maxAttempts: maxAttempts,
		logger:      logger.WithWorker(baseLogger, id),
	}
}

// Start begins the worker processing loop
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().Msg("Starting worker")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Worker received shutdown signal")
			return ctx.Err()
		default:
			if w.stopped {
				w.logger.Info().Msg("Worker stopped")
				return nil
			}

			if err := w.processJob(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Failed to process job")

				// Brief pause to avoid tight error loops
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Stop signals the worker to stop gracefully
func (w *Worker) Stop() {
	w.stopped = true
	w.logger.Info().Msg("Worker stop signal received")
}

// processJob handles the complete lifecycle of one job attempt
func (w *Worker) processJob(ctx context.Context) error {
	job, ok, err := w.queue.PopReady(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to pop job from queue: %w", err)
	}

	if !ok {
		// Brief pause when nothing is ready to avoid spinning
		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	if err := w.queue.SetInFlight(ctx, job, w.id); err != nil {
		w.logger.Error().Err(err).Str("job", job.Key()).Msg("Failed to mark job as in-flight")
		// Re-queue the job since we couldn't track it
		if requeueErr := w.queue.PushJob(ctx, job, time.Now()); requeueErr != nil {
			w.logger.Error().Err(requeueErr).Str("job", job.Key()).Msg("Failed to requeue job after in-flight error")
		}
		return err
	}

	jobLogger := logger.WithJob(w.logger, job.JobType, job.WalletID)
	startTime := time.Now()

	jobLogger.Info().Msg("Starting job")

	runErr := w.runJob(ctx, job)
	duration := time.Since(startTime)

	if removeErr := w.queue.RemoveInFlight(ctx, job); removeErr != nil {
		jobLogger.Error().Err(removeErr).Msg("Failed to remove job from in-flight tracking")
	}

	if runErr != nil {
		jobLogger.Error().Err(runErr).Dur("duration", duration).Msg("Job attempt failed")
		w.scheduleRetry(ctx, job, jobLogger)
		return fmt.Errorf("job %s failed: %w", job.Key(), runErr)
	}

	if err := w.queue.ClearAttempts(ctx, job); err != nil {
		jobLogger.Warn().Err(err).Msg("Failed to clear attempt counter")
	}

	jobLogger.Info().Dur("duration", duration).Msg("Job completed successfully")
	return nil
}

// runJob invokes the orchestrator under the per-attempt timeout.
func (w *Worker) runJob(ctx context.Context, job queue.Job) error {
	attemptCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	switch job.JobType {
	case models.JobTypeUpdate:
		return w.runner.RunUpdate(attemptCtx, job.WalletID)
	case models.JobTypeImport:
		return w.runner.RunFullImport(attemptCtx, job.WalletID)
	default:
		return fmt.Errorf("unknown job type: %q", job.JobType)
	}
}

// scheduleRetry re-submits a failed job with the next backoff delay, or
// drops it once attempts are exhausted.
func (w *Worker) scheduleRetry(ctx context.Context, job queue.Job, log zerolog.Logger) {
	attempts, err := w.queue.IncrAttempts(ctx, job)
	if err != nil {
		log.Error().Err(err).Msg("Failed to track job attempts")
		return
	}

	if attempts >= w.maxAttempts {
		log.Error().Int("attempts", attempts).Msg("Job attempts exhausted, dropping")
		if err := w.queue.ClearAttempts(ctx, job); err != nil {
			log.Warn().Err(err).Msg("Failed to clear attempt counter")
		}
		metrics.RecordImportOutcome(job.JobType, "dropped")
		return
	}

	backoff := retryBackoff[len(retryBackoff)-1]
	if attempts-1 < len(retryBackoff) {
		backoff = retryBackoff[attempts-1]
	}

	readyAt := time.Now().Add(backoff)
	if err := w.queue.PushJob(ctx, job, readyAt); err != nil {
		log.Error().Err(err).Msg("Failed to schedule job retry")
		return
	}

	log.Info().
		Int("attempt", attempts).
		Dur("backoff", backoff).
		Time("ready_at", readyAt).
		Msg("Scheduled job retry")
}
