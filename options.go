package unillm

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/unillm/internal/dispatch"
	"github.com/blueberrycongee/unillm/internal/retry"
	"github.com/blueberrycongee/unillm/pkg/cache"
	"github.com/blueberrycongee/unillm/pkg/prompt"
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/pkg/types"
	"github.com/blueberrycongee/unillm/providers"
)

// ClientConfig holds all configuration for the Client.
type ClientConfig struct {
	// Backend. Adapter wins over Backend when both are set.
	Adapter  provider.Adapter
	Backend  *provider.Config
	Registry *providers.Registry
	Model    string

	// Caching. A nil Cache disables caching.
	Cache        cache.Store
	CacheTTL     time.Duration
	ForceRefresh bool
	KeyOptions   []cache.KeyOption

	// Retries and fan-out
	RetryPolicy retry.Policy
	Dispatch    dispatch.Config

	Params        types.Params
	PromptBuilder prompt.Builder

	// Observability
	Logger            *slog.Logger
	MetricsRegisterer prometheus.Registerer
	Tracer            trace.Tracer
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

// defaultConfig returns sensible defaults.
func defaultConfig() *ClientConfig {
	return &ClientConfig{
		RetryPolicy: retry.DefaultPolicy(),
		Dispatch:    dispatch.DefaultConfig(),
		Logger:      slog.Default(),
	}
}

// WithAdapter uses a pre-built adapter.
//
// Example:
//
//	a := ollama.New(ollama.WithModel("llama3"))
//	unillm.WithAdapter(a)
func WithAdapter(a provider.Adapter) Option {
	return func(c *ClientConfig) {
		c.Adapter = a
	}
}

// WithBackend creates the adapter from configuration through the registry.
// The API key must already be resolved; NewFromConfig handles secret
// references.
func WithBackend(cfg provider.Config) Option {
	return func(c *ClientConfig) {
		c.Backend = &cfg
	}
}

// WithRegistry sets the adapter registry used by WithBackend.
func WithRegistry(r *providers.Registry) Option {
	return func(c *ClientConfig) {
		c.Registry = r
	}
}

// WithModel sets the model id used in cache keys when the adapter does not
// report one.
func WithModel(model string) Option {
	return func(c *ClientConfig) {
		c.Model = model
	}
}

// WithCache enables caching in store. The client closes the store on Close.
func WithCache(store cache.Store) Option {
	return func(c *ClientConfig) {
		c.Cache = store
	}
}

// WithCacheTTL sets the lifetime of written entries. Zero selects the store
// default, negative disables expiry.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *ClientConfig) {
		c.CacheTTL = ttl
	}
}

// WithForceRefresh skips cache reads while still writing fresh outputs.
func WithForceRefresh(enabled bool) Option {
	return func(c *ClientConfig) {
		c.ForceRefresh = enabled
	}
}

// WithKeyVersion stamps every cache key with v. Changing it invalidates
// previously written entries.
func WithKeyVersion(v string) Option {
	return func(c *ClientConfig) {
		c.KeyOptions = append(c.KeyOptions, cache.WithVersionStamp(v))
	}
}

// WithKeyNamespace prefixes every cache key with ns.
func WithKeyNamespace(ns string) Option {
	return func(c *ClientConfig) {
		c.KeyOptions = append(c.KeyOptions, cache.WithNamespace(ns))
	}
}

// WithRetryPolicy configures retry behavior.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *ClientConfig) {
		c.RetryPolicy = p
	}
}

// WithConcurrency caps the number of items in flight per batch.
func WithConcurrency(n int) Option {
	return func(c *ClientConfig) {
		c.Dispatch.Concurrency = n
	}
}

// WithBatchDeadline sets the overall budget of one batch. Items not started
// by then fail with a timeout.
func WithBatchDeadline(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.Dispatch.BatchDeadline = d
	}
}

// WithAttemptTimeout bounds every single backend call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.Dispatch.AttemptTimeout = d
	}
}

// WithRateLimit caps backend calls per second, shared by all items.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *ClientConfig) {
		c.Dispatch.RateLimit = perSecond
		c.Dispatch.RateBurst = burst
	}
}

// WithParams sets generation parameters sent with every request.
func WithParams(p types.Params) Option {
	return func(c *ClientConfig) {
		c.Params = p.Clone()
	}
}

// WithPromptBuilder rewrites inputs before they are keyed and sent, and
// parses outputs afterwards.
func WithPromptBuilder(b prompt.Builder) Option {
	return func(c *ClientConfig) {
		c.PromptBuilder = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *ClientConfig) {
		c.Logger = l
	}
}

// WithMetricsRegisterer enables Prometheus metrics registered with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *ClientConfig) {
		c.MetricsRegisterer = reg
	}
}

// WithTracer enables OpenTelemetry spans for batches and items.
func WithTracer(t trace.Tracer) Option {
	return func(c *ClientConfig) {
		c.Tracer = t
	}
}
