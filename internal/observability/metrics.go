// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the routing engine.
type Metrics struct {
	// Request metrics
	RequestsTotal *prometheus.CounterVec // discipline, outcome

	// Execution metrics
	FillsTotal           *prometheus.CounterVec // leg kind
	RoutedVolume         *prometheus.CounterVec // leg kind, sell-token units
	BookFallbackVolume   prometheus.Counter
	VenueErrorsRecovered prometheus.Counter
	PriceLimitRejections prometheus.Counter
	ReentrancyAborts     prometheus.Counter

	// Latency metrics
	AdapterSwapDuration *prometheus.HistogramVec // adapter

	// Persistence metrics
	FillStoreErrors prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "liquidity_router"
	}

	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Routing requests by discipline and outcome.",
		}, []string{"discipline", "outcome"}),

		FillsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Executed legs by kind.",
		}, []string{"leg"}),

		RoutedVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routed_volume",
			Help:      "Sell-token volume consumed, by leg kind.",
		}, []string{"leg"}),

		BookFallbackVolume: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_fallback_volume",
			Help:      "Sell-token volume redirected to the resident book.",
		}),

		VenueErrorsRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "venue_errors_recovered_total",
			Help:      "Adapter failures absorbed and redirected downstream.",
		}),

		PriceLimitRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_limit_rejections_total",
			Help:      "Requests aborted because a venue exceeded its ceiling.",
		}),

		ReentrancyAborts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reentrancy_aborts_total",
			Help:      "Requests aborted by the reentrancy guard.",
		}),

		AdapterSwapDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_swap_duration_seconds",
			Help:      "Adapter Swap call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"adapter"}),

		FillStoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fill_store_errors_total",
			Help:      "Failed fill record writes.",
		}),
	}
}

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
