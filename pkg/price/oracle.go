package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"zerodust/pkg/metrics"
)

const (
	DefaultBaseURL         = "https://api.coingecko.com/api/v3"
	DefaultRefreshInterval = 60 * time.Second
	defaultRequestTimeout  = 10 * time.Second
)

// Table maps a price-service asset id to its USD price. A Table is never mutated after publication.
type Table map[string]float64

// asset describes how a native symbol is priced
type asset struct {
	ID       string  // Price service id, empty for pegged assets
	Pegged   bool    // Always worth exactly $1
	Fallback float64 // Used when the id is missing from the table, 0 for none
}

// assets is the symbol -> pricing rule table
var assets = map[string]asset{
	"ETH":   {ID: "ethereum"},
	"MATIC": {ID: "matic-network"},
	"BNB":   {ID: "binancecoin"},
	"AVAX":  {ID: "avalanche-2"},
	"FTM":   {ID: "fantom"},
	"MNT":   {ID: "mantle"},
	"GLMR":  {ID: "moonbeam"},
	"MOVR":  {ID: "moonriver"},
	"CELO":  {ID: "celo"},
	"XDAI":  {Pegged: true},
	"S":     {ID: "sonic", Fallback: 0.10},
	"BERA":  {ID: "berachain", Fallback: 1.00},
}

// fallbackTable is served when the price service has never answered
var fallbackTable = Table{
	"ethereum":      3500,
	"matic-network": 0.20,
	"binancecoin":   600,
	"avalanche-2":   40,
	"fantom":        0.30,
	"mantle":        0.50,
	"moonbeam":      0.25,
	"moonriver":     15,
	"celo":          0.60,
}

// FallbackTable returns a copy of the static price table
func FallbackTable() Table {
	t := make(Table, len(fallbackTable))
	for k, v := range fallbackTable {
		t[k] = v
	}
	return t
}

// TrackedIDs returns the price-service ids of every priced asset, sorted
func TrackedIDs() []string {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.ID != "" {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Price returns the USD price of a native symbol. Pegged assets are always 1;
// unknown symbols are 0; assets with a fallback never return 0 when absent from the table.
func Price(symbol string, table Table) float64 {
	a, ok := assets[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return 0
	}
	if a.Pegged {
		return 1
	}
	if p, ok := table[a.ID]; ok && p > 0 {
		return p
	}
	return a.Fallback
}

// Oracle fetches and caches USD prices for native assets
type Oracle struct {
	baseURL    string
	ids        []string
	interval   time.Duration
	httpClient *http.Client
	logger     *logrus.Logger

	mu      sync.RWMutex
	table   Table
	updated time.Time
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Oracle
type Option func(*Oracle)

// WithBaseURL overrides the price service endpoint
func WithBaseURL(baseURL string) Option {
	return func(o *Oracle) { o.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithInterval sets the refresh period
func WithInterval(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *Oracle) { o.httpClient = c }
}

// NewOracle creates a price oracle. Nothing is fetched until FetchPrices or Start is called.
func NewOracle(logger *logrus.Logger, opts ...Option) *Oracle {
	o := &Oracle{
		baseURL:  DefaultBaseURL,
		ids:      TrackedIDs(),
		interval: DefaultRefreshInterval,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Current returns the latest published price table, or nil if none exists yet
func (o *Oracle) Current() Table {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.table
}

// UpdatedAt returns when the current table was published
func (o *Oracle) UpdatedAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.updated
}

// Price returns the USD price of symbol from the current table
func (o *Oracle) Price(symbol string) float64 {
	return Price(symbol, o.Current())
}

// FetchPrices issues one batched request for all tracked assets and publishes the result.
// On failure the previous table stays in place; if there is none the static table is
// published instead. The returned table is always usable; the error reports the failure.
func (o *Oracle) FetchPrices(ctx context.Context) (Table, error) {
	table, err := o.fetch(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("Failed to fetch prices")

		o.mu.Lock()
		defer o.mu.Unlock()
		if o.table == nil && !o.stopped {
			o.table = FallbackTable()
			o.updated = time.Now()
			metrics.PriceRefreshes.WithLabelValues("fallback").Inc()
		} else {
			metrics.PriceRefreshes.WithLabelValues("error").Inc()
		}
		return o.table, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return o.table, nil
	}
	o.table = table
	o.updated = time.Now()
	metrics.PriceRefreshes.WithLabelValues("ok").Inc()
	o.logger.WithField("assets", len(table)).Debug("Price table refreshed")

	return table, nil
}

func (o *Oracle) fetch(ctx context.Context) (Table, error) {
	params := url.Values{}
	params.Add("ids", strings.Join(o.ids, ","))
	params.Add("vs_currencies", "usd")

	reqURL := fmt.Sprintf("%s/simple/price?%s", o.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API error (status %d): %s", resp.StatusCode, string(body))
	}

	return parseTable(body)
}

// parseTable decodes an id -> {usd: number} payload. Entries without a usable price are skipped.
func parseTable(body []byte) (Table, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode price response")
	}

	table := make(Table, len(raw))
	for id, entry := range raw {
		var quote struct {
			USD *float64 `json:"usd"`
		}
		if err := json.Unmarshal(entry, &quote); err != nil || quote.USD == nil || *quote.USD < 0 {
			continue
		}
		table[id] = *quote.USD
	}

	if len(table) == 0 {
		return nil, fmt.Errorf("price response contained no usable prices")
	}

	return table, nil
}

// Start fetches prices immediately and then on every interval until Stop is called
// or ctx is cancelled.
func (o *Oracle) Start(ctx context.Context) {
	o.mu.Lock()
	if o.cancel != nil || o.stopped {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	done := o.done
	o.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()

		o.FetchPrices(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.FetchPrices(ctx)
			}
		}
	}()

	o.logger.WithField("interval", o.interval).Debug("Price polling started")
}

// Stop cancels polling and waits for the loop to exit. The table is not modified afterwards.
func (o *Oracle) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	o.logger.Debug("Price polling stopped")
}
