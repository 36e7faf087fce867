package unillm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blueberrycongee/unillm/internal/dispatch"
	"github.com/blueberrycongee/unillm/internal/metrics"
	"github.com/blueberrycongee/unillm/internal/observability"
	"github.com/blueberrycongee/unillm/internal/retry"
	"github.com/blueberrycongee/unillm/pkg/cache"
	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/prompt"
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/pkg/types"
	"github.com/blueberrycongee/unillm/providers"
)

// MetadataRequestID is the input metadata key carrying the request ID.
const MetadataRequestID = "request_id"

// Client is the entry point for running inference. It owns one adapter and
// an optional cache store; it keeps no other state between calls.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	adapter    provider.Adapter
	store      cache.Store
	dispatcher *dispatch.Dispatcher
	builder    prompt.Builder
	params     types.Params
	backendID  string
	modelID    string
	logger     *slog.Logger

	gatherer prometheus.Gatherer

	// closers run after the adapter and store on Close.
	closers   []func(context.Context) error
	closeOnce sync.Once
	closeErr  error
}

// New creates a new client with the given options.
//
// Example:
//
//	client, err := unillm.New(
//	    unillm.WithBackend(provider.Config{Type: "ollama", Model: "llama3"}),
//	    unillm.WithConcurrency(4),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	adapter := cfg.Adapter
	model := cfg.Model
	if adapter == nil {
		if cfg.Backend == nil {
			return nil, fmt.Errorf("%w: no backend configured", llmerrors.ErrInvalidConfig)
		}
		reg := cfg.Registry
		if reg == nil {
			reg = providers.Default()
		}
		a, err := reg.Create(*cfg.Backend)
		if err != nil {
			return nil, err
		}
		adapter = a
		if model == "" {
			model = cfg.Backend.Model
		}
	}
	if m, ok := adapter.(interface{ Model() string }); ok && model == "" {
		model = m.Model()
	}

	if err := cfg.RetryPolicy.Validate(); err != nil {
		return nil, err
	}

	store := cfg.Cache
	if store != nil && cfg.ForceRefresh {
		store = cache.ForceRefresh(store)
	}

	dcfg := cfg.Dispatch
	dcfg.CacheTTL = cfg.CacheTTL
	// A backend's own concurrency limit caps the dispatcher's.
	if cfg.Backend != nil && cfg.Backend.MaxConcurrent > 0 &&
		(dcfg.Concurrency == 0 || cfg.Backend.MaxConcurrent < dcfg.Concurrency) {
		dcfg.Concurrency = cfg.Backend.MaxConcurrent
	}

	dopts := []dispatch.Option{
		dispatch.WithStore(store),
		dispatch.WithKeyDeriver(cache.NewKeyDeriver(cfg.KeyOptions...)),
		dispatch.WithRetry(retry.NewController(cfg.RetryPolicy)),
		dispatch.WithLogger(cfg.Logger),
		dispatch.WithTracer(cfg.Tracer),
	}
	if cfg.MetricsRegisterer != nil {
		dopts = append(dopts, dispatch.WithMetrics(metrics.NewCollector(cfg.MetricsRegisterer)))
	}
	d, err := dispatch.New(adapter, dcfg, dopts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		adapter:    adapter,
		store:      cfg.Cache,
		dispatcher: d,
		builder:    cfg.PromptBuilder,
		params:     cfg.Params.Clone(),
		backendID:  adapter.Name(),
		modelID:    model,
		logger:     cfg.Logger,
	}

	c.logger.Info("unillm client initialized",
		"backend", c.backendID,
		"kind", adapter.Kind(),
		"model", c.modelID,
		"cache_enabled", store != nil,
		"concurrency", d.Config().Concurrency,
	)
	return c, nil
}

// Backend returns the backend id used in cache keys.
func (c *Client) Backend() string { return c.backendID }

// Model returns the model id used in cache keys.
func (c *Client) Model() string { return c.modelID }

// Store returns the cache store, or nil when caching is disabled.
func (c *Client) Store() cache.Store { return c.store }

// Key returns the cache key Generate would use for input. It applies the
// prompt builder first, as Generate does.
func (c *Client) Key(input InferenceInput) cache.Key {
	if c.builder != nil {
		input = c.builder.ProcessInput(input)
	}
	return c.dispatcher.Keys().Derive(input, c.params, c.backendID, c.modelID)
}

// Generate runs one input. It is a one-item batch.
func (c *Client) Generate(ctx context.Context, input InferenceInput) (*InferenceOutput, error) {
	res, err := c.GenerateBatch(ctx, []InferenceInput{input})
	if err != nil {
		return nil, err
	}
	return res[0].Output, res[0].Err
}

// GenerateBatch runs every input and returns one result per input, in input
// order. Item failures are reported in their slot; the error is non-nil only
// when the batch could not be set up.
func (c *Client) GenerateBatch(ctx context.Context, inputs []InferenceInput) (BatchResult, error) {
	ctx, requestID := observability.GetOrCreateRequestID(ctx)
	prepared := make([]types.InferenceInput, len(inputs))
	for i, in := range inputs {
		prepared[i] = c.prepare(in, requestID)
	}

	res, err := c.dispatcher.Dispatch(ctx, types.NewBatch(prepared...), c.params, c.backendID, c.modelID)
	if err != nil {
		return nil, err
	}
	c.parse(res)
	return res, nil
}

// GenerateRepeated samples every input repeat times. Samples of one input
// differ only in their repeat index, so each gets its own cache entry.
// The result holds one row per input with repeat results each.
func (c *Client) GenerateRepeated(ctx context.Context, inputs []InferenceInput, repeat int) ([][]Result, error) {
	if repeat < 1 {
		return nil, fmt.Errorf("%w: repeat must be at least 1, got %d", llmerrors.ErrInvalidConfig, repeat)
	}

	ctx, requestID := observability.GetOrCreateRequestID(ctx)
	prepared := make([]types.InferenceInput, 0, len(inputs)*repeat)
	for _, in := range inputs {
		for r := range repeat {
			prepared = append(prepared, c.prepare(in.WithRepeatIndex(r), requestID))
		}
	}

	res, err := c.dispatcher.Dispatch(ctx, types.NewBatch(prepared...), c.params, c.backendID, c.modelID)
	if err != nil {
		return nil, err
	}
	c.parse(res)

	grouped := make([][]Result, len(inputs))
	for i := range inputs {
		row := make([]Result, repeat)
		for r := range repeat {
			row[r] = res[i*repeat+r]
			row[r].Index = r
		}
		grouped[i] = row
	}
	return grouped, nil
}

func (c *Client) prepare(in types.InferenceInput, requestID string) types.InferenceInput {
	if c.builder != nil {
		in = c.builder.ProcessInput(in)
	}
	return in.WithMetadata(MetadataRequestID, requestID)
}

func (c *Client) parse(res types.BatchResult) {
	if c.builder == nil {
		return
	}
	for i := range res {
		if res[i].Output != nil {
			res[i].Output = c.builder.ParseOutput(res[i].Output)
		}
	}
}

// Close releases the adapter, the cache store and anything NewFromConfig
// opened. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		errs := []error{c.adapter.Close()}
		if c.store != nil {
			errs = append(errs, c.store.Close())
		}
		for _, fn := range c.closers {
			errs = append(errs, fn(context.Background()))
		}
		c.closeErr = errors.Join(errs...)
		c.logger.Info("unillm client closed")
	})
	return c.closeErr
}
