// Package queue is the Redis-backed import job queue. Jobs are scored by
// their ready-at time, so retry backoff is a delayed re-submission instead
// of a blocked worker.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	jobQueueKey = "import_jobs"
	inflightKey = "import_inflight"
	attemptsKey = "import_attempts"
)

// Job is one unit of work: a wallet and what to do with it.
type Job struct {
	WalletID uint
	JobType  string // models.JobTypeImport or models.JobTypeUpdate
}

// Key is the queue member encoding, "walletID:jobType". Invocations are
// keyed by wallet, so duplicate enqueues for one wallet collapse.
func (j Job) Key() string {
	return fmt.Sprintf("%d:%s", j.WalletID, j.JobType)
}

// ParseJob decodes a queue member.
func ParseJob(key string) (Job, error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return Job{}, fmt.Errorf("invalid job key: %q", key)
	}
	id, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Job{}, fmt.Errorf("invalid wallet id in job key %q: %w", key, err)
	}
	return Job{WalletID: uint(id), JobType: parts[1]}, nil
}

// Client wraps Redis operations for btcwatch queue management
type Client struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewClient creates a new Redis queue client
func NewClient(redisURL string, logger zerolog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_url", redisURL).Msg("Connected to Redis successfully")

	return &Client{
		client: client,
		logger: logger.With().Str("component", "queue").Logger(),
	}, nil
}

// PushJob adds a job scored by its ready-at time. A job pushed for the
// future stays invisible to PopReady until then.
func (c *Client) PushJob(ctx context.Context, job Job, readyAt time.Time) error {
	err := c.client.ZAdd(ctx, jobQueueKey, redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: job.Key(),
	}).Err()

	if err != nil {
		return fmt.Errorf("failed to push job to queue: %w", err)
	}

	c.logger.Debug().
		Str("job", job.Key()).
		Time("ready_at", readyAt).
		Msg("Pushed job to queue")

	return nil
}

// PopReady removes and returns the job with the earliest ready-at time, if
// that time has passed. Returns a zero Job and false when nothing is ready.
func (c *Client) PopReady(ctx context.Context, now time.Time) (Job, bool, error) {
	result, err := c.client.ZPopMin(ctx, jobQueueKey, 1).Result()
	if err != nil {
		if err == redis.Nil {
			return Job{}, false, nil
		}
		return Job{}, false, fmt.Errorf("failed to pop job from queue: %w", err)
	}
	if len(result) == 0 {
		return Job{}, false, nil
	}

	member := result[0].Member.(string)

	// Not ready yet: put it back untouched
	if int64(result[0].Score) > now.Unix() {
		if err := c.client.ZAdd(ctx, jobQueueKey, result[0]).Err(); err != nil {
			return Job{}, false, fmt.Errorf("failed to re-add unready job: %w", err)
		}
		return Job{}, false, nil
	}

	job, err := ParseJob(member)
	if err != nil {
		c.logger.Warn().Str("member", member).Msg("Dropping malformed job key")
		return Job{}, false, nil
	}

	c.logger.Debug().Str("job", member).Msg("Popped job from queue")
	return job, true, nil
}

// SetInFlight marks a job as being processed by a worker
func (c *Client) SetInFlight(ctx context.Context, job Job, worker string) error {
	value := fmt.Sprintf("%s,%d", worker, time.Now().Unix())
	if err := c.client.HSet(ctx, inflightKey, job.Key(), value).Err(); err != nil {
		return fmt.Errorf("failed to set job in-flight: %w", err)
	}

	c.logger.Debug().
		Str("job", job.Key()).
		Str("worker", worker).
		Msg("Marked job as in-flight")

	return nil
}

// RemoveInFlight removes a job from the in-flight tracking
func (c *Client) RemoveInFlight(ctx context.Context, job Job) error {
	if err := c.client.HDel(ctx, inflightKey, job.Key()).Err(); err != nil {
		return fmt.Errorf("failed to remove job from in-flight: %w", err)
	}

	c.logger.Debug().Str("job", job.Key()).Msg("Removed job from in-flight")
	return nil
}

// IncrAttempts bumps and returns the attempt counter for a job.
func (c *Client) IncrAttempts(ctx context.Context, job Job) (int, error) {
	n, err := c.client.HIncrBy(ctx, attemptsKey, job.Key(), 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment job attempts: %w", err)
	}
	return int(n), nil
}

// ClearAttempts resets the attempt counter for a job.
func (c *Client) ClearAttempts(ctx context.Context, job Job) error {
	if err := c.client.HDel(ctx, attemptsKey, job.Key()).Err(); err != nil {
		return fmt.Errorf("failed to clear job attempts: %w", err)
	}
	return nil
}

// GetQueueLength returns the number of jobs in the queue
func (c *Client) GetQueueLength(ctx context.Context) (int64, error) {
	length, err := c.client.ZCard(ctx, jobQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return length, nil
}

// GetInFlightJobs returns all jobs currently being processed
func (c *Client) GetInFlightJobs(ctx context.Context) (map[string]string, error) {
	result, err := c.client.HGetAll(ctx, inflightKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get in-flight jobs: %w", err)
	}
	return result, nil
}

// RequeueStuck moves jobs that have been in-flight too long back to the
// queue, ready immediately.
func (c *Client) RequeueStuck(ctx context.Context, timeout time.Duration) error {
	inFlight, err := c.GetInFlightJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get in-flight jobs: %w", err)
	}

	cutoff := time.Now().Add(-timeout).Unix()
	requeued := 0

	for key, value := range inFlight {
		parts := strings.SplitN(value, ",", 2)
		if len(parts) != 2 {
			c.logger.Warn().Str("job", key).Str("value", value).Msg("Invalid in-flight value format")
			continue
		}

		startTime, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			c.logger.Warn().Str("job", key).Str("value", value).Msg("Invalid timestamp in in-flight value")
			continue
		}

		if startTime >= cutoff {
			continue
		}

		job, err := ParseJob(key)
		if err != nil {
			c.logger.Warn().Str("job", key).Msg("Dropping malformed stuck job")
			c.client.HDel(ctx, inflightKey, key)
			continue
		}

		if err := c.PushJob(ctx, job, time.Now()); err != nil {
			c.logger.Error().Err(err).Str("job", key).Msg("Failed to requeue stuck job")
			continue
		}
		if err := c.client.HDel(ctx, inflightKey, key).Err(); err != nil {
			c.logger.Error().Err(err).Str("job", key).Msg("Failed to remove requeued job from in-flight")
		}

		requeued++
		c.logger.Info().
			Str("job", key).
			Str("worker", parts[0]).
			Int64("stuck_minutes", (time.Now().Unix()-startTime)/60).
			Msg("Requeued stuck job")
	}

	if requeued > 0 {
		c.logger.Info().Int("count", requeued).Msg("Requeued stuck jobs")
	}

	return nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}
