package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup outcomes
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeStale   = "stale"
	OutcomeCorrupt = "corrupt"
)

type Metrics struct {
	registry *prometheus.Registry

	CacheLookupsTotal  *prometheus.CounterVec
	FetchesTotal       *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	DiscardedResults   *prometheus.CounterVec
	InvalidationsTotal *prometheus.CounterVec
	LinkOutcomesTotal  *prometheus.CounterVec
}

// NewMetrics registers the client collectors on a private registry so
// several instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartswipe_cache_lookups_total",
				Help: "Total number of cache lookups by resource kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartswipe_fetches_total",
				Help: "Total number of backend fetches by resource and result",
			},
			[]string{"resource", "result"},
		),

		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smartswipe_fetch_duration_seconds",
				Help:    "Backend fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource"},
		),

		DiscardedResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartswipe_discarded_results_total",
				Help: "Fetch results dropped because a newer request superseded them",
			},
			[]string{"resource"},
		),

		InvalidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartswipe_invalidations_total",
				Help: "Invalidation events by topic and direction",
			},
			[]string{"topic", "direction"},
		),

		LinkOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartswipe_link_outcomes_total",
				Help: "Account linking flows by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collected metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
