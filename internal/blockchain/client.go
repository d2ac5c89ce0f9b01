package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/btcwatch/internal/metrics"
	"golang.org/x/time/rate"
)

// Backoff bases per failure class. Each doubles with every retry.
const (
	rateLimitBackoff = 30 * time.Second
	connErrorBackoff = 15 * time.Second
	preRetryPause    = 10 * time.Second
)

// Client talks to a blockchain.info-shaped explorer API. Exhausted retries
// degrade to an empty result instead of an error; callers treat empty as
// "no data this cycle".
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    int
	pageSize   int
	maxPages   int
	sleep      func(ctx context.Context, d time.Duration) error
	logger     zerolog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets the retry count per request.
func WithRetries(retries int) Option {
	return func(c *Client) { c.retries = retries }
}

// WithPaging sets the page size and page ceiling used by watermark scans.
func WithPaging(pageSize, maxPages int) Option {
	return func(c *Client) {
		c.pageSize = pageSize
		c.maxPages = maxPages
	}
}

// WithSleep replaces the backoff sleep. Tests inject a no-op here.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates an explorer client for the given base URL.
func NewClient(baseURL string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		// ~1 req/s keeps well under the explorer's informal limits
		limiter:  rate.NewLimiter(rate.Limit(1.0), 2),
		retries:  3,
		pageSize: 50,
		maxPages: 100,
		sleep:    sleepWithContext,
		logger:   logger.With().Str("component", "blockchain_client").Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetBalance returns the confirmed balance of the address in satoshis.
// Unknown addresses yield 0.
func (c *Client) GetBalance(ctx context.Context, address string) (int64, error) {
	resp, err := c.request(ctx, "balance", url.Values{"active": {address}})
	if err != nil {
		return 0, err
	}
	if resp == nil || len(resp.Addresses) == 0 {
		return 0, nil
	}
	return resp.Addresses[0].FinalBalance, nil
}

// GetTransactionCount returns the total transaction count the explorer
// reports for the address.
func (c *Client) GetTransactionCount(ctx context.Context, address string) (int, error) {
	resp, err := c.request(ctx, "multiaddr", url.Values{
		"active": {address},
		"limit":  {"1"},
	})
	if err != nil {
		return 0, err
	}
	if resp == nil || len(resp.Addresses) == 0 {
		return 0, nil
	}
	return resp.Addresses[0].NTx, nil
}

// GetTransactions returns one page of the address's transaction history,
// newest first.
func (c *Client) GetTransactions(ctx context.Context, address string, limit, offset int) ([]RawTransaction, error) {
	resp, err := c.request(ctx, "multiaddr", url.Values{
		"active": {address},
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		c.logger.Warn().
			Str("address", address).
			Int("limit", limit).
			Int("offset", offset).
			Msg("No transactions received from explorer")
		return nil, nil
	}

	c.logger.Debug().
		Str("address", address).
		Int("limit", limit).
		Int("offset", offset).
		Int("count", len(resp.Txs)).
		Msg("Fetched transaction page")

	return resp.Txs, nil
}

// GetTransactionsAfter returns transactions strictly newer than the given
// unix timestamp. The upstream only offers offset pagination ordered newest
// first, so this pages forward from offset 0 and stops once a transaction at
// or below the watermark appears. Worst case it scans the full page ceiling.
func (c *Client) GetTransactionsAfter(ctx context.Context, address string, since int64) ([]RawTransaction, error) {
	var newer []RawTransaction

	for page := 0; page < c.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		txs, err := c.GetTransactions(ctx, address, c.pageSize, page*c.pageSize)
		if err != nil {
			return nil, err
		}
		if len(txs) == 0 {
			break
		}

		crossed := false
		for _, tx := range txs {
			if tx.Time != 0 && tx.Time <= since {
				crossed = true
				break
			}
			newer = append(newer, tx)
		}

		if crossed || len(txs) < c.pageSize {
			break
		}
	}

	c.logger.Debug().
		Str("address", address).
		Int64("since", since).
		Int("count", len(newer)).
		Msg("Collected transactions after watermark")

	return newer, nil
}

// request performs one explorer call with class-specific retry backoff.
// Exhausted retries return (nil, nil): degrade gracefully, the explorer is
// known to be flaky.
func (c *Client) request(ctx context.Context, path string, params url.Values) (*multiaddrResponse, error) {
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, path, params.Encode())

	for attempt := 1; attempt <= c.retries+1; attempt++ {
		// Pause before every retry, independent of why the last attempt
		// failed
		if attempt > 1 {
			pause := preRetryPause * time.Duration(1<<(attempt-2))
			c.logger.Info().
				Str("url", reqURL).
				Int("attempt", attempt).
				Dur("pause", pause).
				Msg("Waiting before retry")
			if err := c.sleep(ctx, pause); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, retryable, err := c.requestOnce(ctx, reqURL, path, attempt)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable || attempt > c.retries {
			c.logger.Error().
				Err(err).
				Str("url", reqURL).
				Int("attempt", attempt).
				Msg("Explorer request failed, returning empty result")
			metrics.RecordExplorerRequest(path, "failed")
			return nil, nil
		}
	}

	return nil, nil
}

// requestOnce performs a single attempt and applies the failure-class
// backoff before reporting the error back to the retry loop.
func (c *Client) requestOnce(ctx context.Context, reqURL, operation string, attempt int) (*multiaddrResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordExplorerRequest(operation, "error")
		c.logger.Warn().Err(err).Str("url", reqURL).Msg("Connection error, backing off")
		if serr := c.backoff(ctx, connErrorBackoff, attempt); serr != nil {
			return nil, false, serr
		}
		return nil, true, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.RecordExplorerRequest(operation, "rate_limited")
		c.logger.Warn().Str("url", reqURL).Msg("Rate limited by explorer, backing off")
		if serr := c.backoff(ctx, rateLimitBackoff, attempt); serr != nil {
			return nil, false, serr
		}
		return nil, true, fmt.Errorf("rate limited: status %d", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.RecordExplorerRequest(operation, "failed")
		return nil, false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordExplorerRequest(operation, "error")
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed multiaddrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.RecordExplorerRequest(operation, "error")
		return nil, false, fmt.Errorf("failed to unmarshal explorer response: %w", err)
	}

	metrics.RecordExplorerRequest(operation, "success")
	return &parsed, false, nil
}

// backoff sleeps the class base doubled per attempt: 30s/60s/120s for rate
// limits, 15s/30s/60s for connection errors.
func (c *Client) backoff(ctx context.Context, base time.Duration, attempt int) error {
	return c.sleep(ctx, base*time.Duration(1<<(attempt-1)))
}
