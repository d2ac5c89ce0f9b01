package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedSleep collects backoff durations instead of actually sleeping.
type recordedSleep struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations = append(r.durations, d)
	return nil
}

func (r *recordedSleep) slept() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.durations...)
}

func multiaddrBody(address string, nTx int, balance int64, txs []RawTransaction) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"addresses": []map[string]interface{}{
			{"address": address, "n_tx": nTx, "final_balance": balance},
		},
		"txs": txs,
	})
	return body
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *recordedSleep) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sleeper := &recordedSleep{}
	opts = append([]Option{WithSleep(sleeper.sleep)}, opts...)
	return NewClient(server.URL, zerolog.Nop(), opts...), sleeper
}

func TestGetBalance(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance", r.URL.Path)
		assert.Equal(t, "1Addr", r.URL.Query().Get("active"))
		w.Write(multiaddrBody("1Addr", 10, 250000, nil))
	}))

	balance, err := client.GetBalance(context.Background(), "1Addr")
	require.NoError(t, err)
	assert.Equal(t, int64(250000), balance)
}

func TestGetTransactionCount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/multiaddr", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Write(multiaddrBody("1Addr", 321, 0, nil))
	}))

	count, err := client.GetTransactionCount(context.Background(), "1Addr")
	require.NoError(t, err)
	assert.Equal(t, 321, count)
}

func TestRateLimitedThenSuccess(t *testing.T) {
	calls := 0
	client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(multiaddrBody("1Addr", 1, 0, []RawTransaction{{Hash: "abc", Time: 1700000000}}))
	}))

	txs, err := client.GetTransactions(context.Background(), "1Addr", 50, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "abc", txs[0].Hash)
	assert.Equal(t, 2, calls)

	// The rate-limit class backoff fires first, then the pre-retry pause
	slept := sleeper.slept()
	require.Len(t, slept, 2)
	assert.Equal(t, 30*time.Second, slept[0])
	assert.Equal(t, 10*time.Second, slept[1])
}

func TestRateLimitBackoffDoubles(t *testing.T) {
	calls := 0
	client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(multiaddrBody("1Addr", 0, 0, nil))
	}), WithRetries(3))

	_, err := client.GetTransactions(context.Background(), "1Addr", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	slept := sleeper.slept()
	require.Len(t, slept, 4)
	assert.Equal(t, 30*time.Second, slept[0], "first rate-limit backoff")
	assert.Equal(t, 10*time.Second, slept[1], "first pre-retry pause")
	assert.Equal(t, 60*time.Second, slept[2], "doubled rate-limit backoff")
	assert.Equal(t, 20*time.Second, slept[3], "doubled pre-retry pause")
}

func TestExhaustedRetriesDegradeToEmpty(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}), WithRetries(1))

	txs, err := client.GetTransactions(context.Background(), "1Addr", 50, 0)
	require.NoError(t, err, "exhausted retries degrade to an empty result, not an error")
	assert.Nil(t, txs)
	assert.Equal(t, 2, calls)
}

func TestNonRetryableStatusFailsImmediately(t *testing.T) {
	calls := 0
	client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	txs, err := client.GetTransactions(context.Background(), "1Addr", 50, 0)
	require.NoError(t, err)
	assert.Nil(t, txs)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.slept())
}

func TestGetTransactionsAfter(t *testing.T) {
	watermark := int64(1700000000)

	// Newest-first pages: page 0 is entirely newer, page 1 crosses the
	// watermark midway
	page0 := []RawTransaction{
		{Hash: "t5", Time: watermark + 500},
		{Hash: "t4", Time: watermark + 400},
	}
	page1 := []RawTransaction{
		{Hash: "t3", Time: watermark + 300},
		{Hash: "t2", Time: watermark},
	}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		switch offset {
		case 0:
			w.Write(multiaddrBody("1Addr", 4, 0, page0))
		case 2:
			w.Write(multiaddrBody("1Addr", 4, 0, page1))
		default:
			t.Errorf("unexpected offset %d", offset)
			w.Write(multiaddrBody("1Addr", 4, 0, nil))
		}
	}), WithPaging(2, 100))

	txs, err := client.GetTransactionsAfter(context.Background(), "1Addr", watermark)
	require.NoError(t, err)

	hashes := make([]string, 0, len(txs))
	for _, tx := range txs {
		hashes = append(hashes, tx.Hash)
	}
	assert.Equal(t, []string{"t5", "t4", "t3"}, hashes, "stops at the first transaction at or below the watermark")
}

func TestGetTransactionsAfterEmptyHistory(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(multiaddrBody("1Addr", 0, 0, nil))
	}))

	txs, err := client.GetTransactionsAfter(context.Background(), "1Addr", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestBlockTime(t *testing.T) {
	t.Run("valid timestamp", func(t *testing.T) {
		tx := RawTransaction{Time: 1700000000}
		bt := tx.BlockTime()
		require.NotNil(t, bt)
		assert.Equal(t, int64(1700000000), bt.Unix())
	})

	t.Run("zero timestamp", func(t *testing.T) {
		tx := RawTransaction{}
		assert.Nil(t, tx.BlockTime())
	})

	t.Run("pre-genesis timestamp", func(t *testing.T) {
		tx := RawTransaction{Time: time.Date(2008, 6, 1, 0, 0, 0, 0, time.UTC).Unix()}
		assert.Nil(t, tx.BlockTime())
	})
}

func TestRequestURLShape(t *testing.T) {
	var gotURL string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write(multiaddrBody("1Addr", 0, 0, nil))
	}))

	_, err := client.GetTransactions(context.Background(), "1Addr", 50, 100)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("/multiaddr?active=%s&limit=%d&offset=%d", "1Addr", 50, 100), gotURL)
}
