// Package metrics provides the Prometheus series recorded by the dispatcher:
// item outcomes, attempts and retries, cache traffic and backend latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "unillm"
)

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.00625, 0.0125, 0.025, 0.05, 0.1, 0.5,
	1.0, 1.5, 2.0, 2.5, 3.0, 3.5, 4.0, 4.5, 5.0,
	5.5, 6.0, 6.5, 7.0, 7.5, 8.0, 8.5, 9.0, 9.5,
	10.0, 15.0, 20.0, 25.0, 30.0, 60.0, 120.0,
	180.0, 240.0, 300.0,
}

// BatchSizeBuckets covers single calls up to large offline batches.
var BatchSizeBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

// series holds every vector one Collector writes to.
type series struct {
	items          *prometheus.CounterVec
	attempts       *prometheus.CounterVec
	retries        *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cacheWrites    *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	batchSize      *prometheus.HistogramVec
	inFlight       *prometheus.GaugeVec
	tokens         *prometheus.CounterVec
}

func newSeries(reg prometheus.Registerer) *series {
	f := promauto.With(reg)
	return &series{
		items: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Batch items completed, by outcome and error kind",
			},
			[]string{"backend", "outcome", "error_kind"},
		),
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_attempts_total",
				Help:      "Calls made to a backend adapter",
			},
			[]string{"backend"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retries scheduled, by the error kind that caused them",
			},
			[]string{"backend", "error_kind"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by result (hit, miss, error)",
			},
			[]string{"backend", "result"},
		),
		cacheWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_writes_total",
				Help:      "Cache writes by result (ok, error)",
			},
			[]string{"backend", "result"},
		),
		backendLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_latency_seconds",
				Help:      "Latency of a single backend attempt in seconds",
				Buckets:   LatencyBuckets,
			},
			[]string{"backend", "model"},
		),
		batchSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Number of items per dispatched batch",
				Buckets:   BatchSizeBuckets,
			},
			[]string{"backend"},
		),
		inFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_items",
				Help:      "Items currently being processed",
			},
			[]string{"backend"},
		),
		tokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens reported by backends, by direction",
			},
			[]string{"backend", "direction"},
		),
	}
}
