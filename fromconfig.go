package unillm

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blueberrycongee/unillm/caches"
	"github.com/blueberrycongee/unillm/internal/config"
	"github.com/blueberrycongee/unillm/internal/observability"
	"github.com/blueberrycongee/unillm/internal/secret"
	"github.com/blueberrycongee/unillm/pkg/cache"
	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/prompt"
)

// Config is the file-level configuration accepted by NewFromConfig.
type Config = config.Config

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.LoadFromFile(path)
}

// NewFromConfig builds a client from configuration: it resolves the backend
// API key through the secret providers, opens the cache store, sets up
// logging with secret redaction and, when enabled, tracing. opts are applied
// after the configuration and override it.
//
// When metrics are enabled and opts carry no registerer, a private registry
// is used; Client.Gatherer exposes it.
func NewFromConfig(ctx context.Context, cfg *Config, opts ...Option) (_ *Client, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", llmerrors.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", llmerrors.ErrInvalidConfig, err)
	}

	var cleanup []func(context.Context) error
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				_ = cleanup[i](ctx)
			}
		}
	}()

	redactor := observability.NewRedactor()
	logger, err := observability.NewLogger(cfg.Logging, redactor)
	if err != nil {
		return nil, fmt.Errorf("%w: logging: %v", llmerrors.ErrInvalidConfig, err)
	}

	secrets, err := secret.NewDefaultManager(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llmerrors.ErrInvalidConfig, err)
	}
	cleanup = append(cleanup, func(context.Context) error { return secrets.Close() })

	backend := cfg.Backend
	if backend.APIKey != "" {
		key, err := secrets.Resolve(ctx, backend.APIKey)
		if err != nil {
			return nil, fmt.Errorf("%w: backend api_key: %v", llmerrors.ErrInvalidConfig, err)
		}
		backend.APIKey = key
		redactor.AddSecret(key)
	}

	options := []Option{
		WithBackend(backend),
		WithParams(cfg.Params),
		WithRetryPolicy(cfg.Retry),
		WithLogger(logger.Slog()),
		func(c *ClientConfig) { c.Dispatch = cfg.Dispatch },
		// Key options also shape Client.Key when caching is off.
		func(c *ClientConfig) {
			c.KeyOptions = append(c.KeyOptions,
				cache.WithPrefix(cfg.Cache.KeyPrefix),
				cache.WithNamespace(cfg.Cache.Namespace),
				cache.WithVersionStamp(cfg.Cache.KeyVersion),
			)
		},
	}

	if cfg.Cache.Enabled {
		store, err := caches.New(ctx, cfg.Cache.Config)
		if err != nil {
			return nil, err
		}
		cleanup = append(cleanup, func(context.Context) error { return store.Close() })
		options = append(options,
			WithCache(store),
			WithCacheTTL(cfg.Cache.TTL),
			WithForceRefresh(cfg.Cache.ForceRefresh),
		)
	}

	if cfg.Prompt.Name != "" {
		b, err := prompt.Default().Build(cfg.Prompt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", llmerrors.ErrInvalidConfig, err)
		}
		options = append(options, WithPromptBuilder(b))
	}

	tp, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	cleanup = append(cleanup, tp.Shutdown)
	options = append(options, WithTracer(tp.Tracer()))

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		gatherer = reg
		options = append(options, WithMetricsRegisterer(reg))
	}

	client, err := New(append(options, opts...)...)
	if err != nil {
		return nil, err
	}
	client.closers = append(client.closers, tp.Shutdown, func(context.Context) error { return secrets.Close() })
	client.gatherer = gatherer
	return client, nil
}

// Gatherer returns the metrics registry NewFromConfig created, or nil.
func (c *Client) Gatherer() prometheus.Gatherer {
	return c.gatherer
}

// IsSetupError reports whether err aborted a whole batch or client
// construction rather than a single item.
func IsSetupError(err error) bool {
	return errors.Is(err, llmerrors.ErrInvalidConfig) || errors.Is(err, llmerrors.ErrUnknownBackend)
}
