package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ============================================
	// Prices
	// ============================================
	PriceRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerodust_price_refreshes_total",
			Help: "Price table refresh attempts by outcome (ok, error, fallback)",
		},
		[]string{"outcome"},
	)

	// ============================================
	// Quotes
	// ============================================
	QuoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerodust_quote_requests_total",
			Help: "Quote requests sent to the bridging service",
		},
		[]string{"purpose", "outcome"},
	)

	QuoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zerodust_quote_duration_seconds",
			Help:    "Bridging service quote latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"purpose"},
	)

	StaleQuotesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerodust_stale_quotes_discarded_total",
		Help: "Preview quotes dropped because the selection changed before they resolved",
	})

	// ============================================
	// Sweeps
	// ============================================
	Sweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerodust_sweeps_total",
			Help: "Sweep confirmations by outcome (submitted, refused, failed)",
		},
		[]string{"outcome"},
	)
)

// ObserveQuote records one quote round trip
func ObserveQuote(purpose, outcome string, started time.Time) {
	QuoteRequests.WithLabelValues(purpose, outcome).Inc()
	QuoteDuration.WithLabelValues(purpose).Observe(time.Since(started).Seconds())
}

// Handler exposes the default registry for scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
