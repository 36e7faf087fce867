package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Item outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeCached  = "cached"
	OutcomeError   = "error"
)

// Cache lookup and write results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
	CacheOK    = "ok"
)

// Collector records dispatcher metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	s *series
}

// NewCollector registers the series with reg. A nil reg yields a collector
// whose series are never exported, which keeps tests independent of the
// default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	return &Collector{s: newSeries(reg)}
}

// ItemDone records the final outcome of one item. kind is empty on success.
func (c *Collector) ItemDone(backend, outcome, kind string) {
	if c == nil {
		return
	}
	c.s.items.WithLabelValues(backend, outcome, kind).Inc()
}

// Attempt records one adapter call and its latency.
func (c *Collector) Attempt(backend, model string, latency time.Duration) {
	if c == nil {
		return
	}
	c.s.attempts.WithLabelValues(backend).Inc()
	c.s.backendLatency.WithLabelValues(backend, model).Observe(latency.Seconds())
}

// Retry records a scheduled retry.
func (c *Collector) Retry(backend, kind string) {
	if c == nil {
		return
	}
	c.s.retries.WithLabelValues(backend, kind).Inc()
}

// CacheLookup records a cache read result.
func (c *Collector) CacheLookup(backend, result string) {
	if c == nil {
		return
	}
	c.s.cacheLookups.WithLabelValues(backend, result).Inc()
}

// CacheWrite records a cache write result.
func (c *Collector) CacheWrite(backend string, err error) {
	if c == nil {
		return
	}
	result := CacheOK
	if err != nil {
		result = CacheError
	}
	c.s.cacheWrites.WithLabelValues(backend, result).Inc()
}

// Batch records the size of a dispatched batch.
func (c *Collector) Batch(backend string, size int) {
	if c == nil {
		return
	}
	c.s.batchSize.WithLabelValues(backend).Observe(float64(size))
}

// Tokens adds reported token usage.
func (c *Collector) Tokens(backend string, input, output int) {
	if c == nil {
		return
	}
	if input > 0 {
		c.s.tokens.WithLabelValues(backend, "input").Add(float64(input))
	}
	if output > 0 {
		c.s.tokens.WithLabelValues(backend, "output").Add(float64(output))
	}
}

// InFlight adjusts the in-flight gauge by delta.
func (c *Collector) InFlight(backend string, delta int) {
	if c == nil {
		return
	}
	c.s.inFlight.WithLabelValues(backend).Add(float64(delta))
}
