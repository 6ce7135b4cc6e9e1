package price

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceLookup(t *testing.T) {
	table := Table{"ethereum": 3500, "binancecoin": 600, "sonic": 0.42}

	assert.Equal(t, 3500.0, Price("ETH", table))
	assert.Equal(t, 3500.0, Price("eth", table))
	assert.Equal(t, 600.0, Price("BNB", table))
	assert.Equal(t, 0.42, Price("S", table))
	assert.Equal(t, 0.0, Price("MATIC", table))
	assert.Equal(t, 0.0, Price("DOGE", table))
}

func TestPricePeggedIgnoresTable(t *testing.T) {
	assert.Equal(t, 1.0, Price("xDAI", nil))
	assert.Equal(t, 1.0, Price("xDAI", Table{}))
	assert.Equal(t, 1.0, Price("xDAI", Table{"xdai": 7}))
}

func TestPriceFallbackForNewAssets(t *testing.T) {
	assert.Equal(t, 0.10, Price("S", Table{}))
	assert.Equal(t, 1.00, Price("BERA", nil))
	assert.Equal(t, 1.00, Price("BERA", Table{"berachain": 0}))
}

func TestTrackedIDsCoverFallbackTable(t *testing.T) {
	ids := TrackedIDs()
	for id := range FallbackTable() {
		assert.Contains(t, ids, id)
	}
}

func newPriceServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestFetchPricesSuccess(t *testing.T) {
	server := newPriceServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Contains(t, strings.Split(r.URL.Query().Get("ids"), ","), "ethereum")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ethereum":{"usd":3612.5},"binancecoin":{"usd":580},"fantom":{},"celo":{"usd":-1}}`)
	})

	logger, _ := test.NewNullLogger()
	o := NewOracle(logger, WithBaseURL(server.URL))

	table, err := o.FetchPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3612.5, table["ethereum"])
	assert.Equal(t, 580.0, table["binancecoin"])
	assert.NotContains(t, table, "fantom")
	assert.NotContains(t, table, "celo")
	assert.Equal(t, 3612.5, o.Price("ETH"))
	assert.False(t, o.UpdatedAt().IsZero())
}

func TestFetchPricesFirstFailureUsesFallback(t *testing.T) {
	server := newPriceServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	logger, _ := test.NewNullLogger()
	o := NewOracle(logger, WithBaseURL(server.URL))

	table, err := o.FetchPrices(context.Background())
	require.Error(t, err)
	assert.Equal(t, FallbackTable(), table)
	assert.Equal(t, 3500.0, o.Price("ETH"))
}

func TestFetchPricesFailureKeepsPreviousTable(t *testing.T) {
	var calls int32
	server := newPriceServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			fmt.Fprint(w, `{"ethereum":{"usd":4000}}`)
			return
		}
		fmt.Fprint(w, `not json`)
	})

	logger, _ := test.NewNullLogger()
	o := NewOracle(logger, WithBaseURL(server.URL))

	_, err := o.FetchPrices(context.Background())
	require.NoError(t, err)

	table, err := o.FetchPrices(context.Background())
	require.Error(t, err)
	assert.Equal(t, Table{"ethereum": 4000}, table)
	assert.Equal(t, 4000.0, o.Price("ETH"))
}

func TestFetchPricesNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	logger, _ := test.NewNullLogger()
	o := NewOracle(logger, WithBaseURL(url))

	table, err := o.FetchPrices(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3500.0, Price("ETH", table))
}

func TestStartPollsAndStopHaltsUpdates(t *testing.T) {
	var calls int32
	server := newPriceServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, `{"ethereum":{"usd":%d}}`, 1000+n)
	})

	logger, _ := test.NewNullLogger()
	o := NewOracle(logger, WithBaseURL(server.URL), WithInterval(10*time.Millisecond))

	o.Start(context.Background())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, 2*time.Second, 5*time.Millisecond)

	o.Stop()
	frozen := o.Price("ETH")
	callsAtStop := atomic.LoadInt32(&calls)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, callsAtStop, atomic.LoadInt32(&calls))
	assert.Equal(t, frozen, o.Price("ETH"))

	// A manual fetch after Stop must not publish either
	_, err := o.FetchPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frozen, o.Price("ETH"))
}
