// Package dispatch runs a batch of inference inputs against one backend with
// bounded concurrency, cache lookup and write-through, and per-item retries.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/blueberrycongee/unillm/internal/metrics"
	"github.com/blueberrycongee/unillm/internal/observability"
	"github.com/blueberrycongee/unillm/internal/retry"
	"github.com/blueberrycongee/unillm/pkg/cache"
	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// Dispatcher fans a batch out to one adapter. It holds no per-batch state and
// is safe for concurrent Dispatch calls sharing the same handles.
type Dispatcher struct {
	adapter provider.Adapter
	store   cache.Store
	keys    *cache.KeyDeriver
	retry   *retry.Controller
	limiter *rate.Limiter
	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStore enables cache lookup and write-through. A nil store disables
// caching.
func WithStore(s cache.Store) Option {
	return func(d *Dispatcher) { d.store = s }
}

// WithKeyDeriver sets the cache key deriver.
func WithKeyDeriver(k *cache.KeyDeriver) Option {
	return func(d *Dispatcher) {
		if k != nil {
			d.keys = k
		}
	}
}

// WithRetry sets the retry controller.
func WithRetry(c *retry.Controller) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.retry = c
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer sets the tracer for batch and item spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a dispatcher for adapter.
func New(adapter provider.Adapter, cfg Config, opts ...Option) (*Dispatcher, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: dispatcher requires an adapter", llmerrors.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	d := &Dispatcher{
		adapter: adapter,
		keys:    cache.NewKeyDeriver(),
		retry:   retry.NewController(retry.DefaultPolicy()),
		tracer:  noop.NewTracerProvider().Tracer(observability.TracerName),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:     cfg,
		now:     time.Now,
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the effective settings.
func (d *Dispatcher) Config() Config { return d.cfg }

// Adapter returns the backend adapter.
func (d *Dispatcher) Adapter() provider.Adapter { return d.adapter }

// Store returns the cache store, or nil when caching is disabled.
func (d *Dispatcher) Store() cache.Store { return d.store }

// Keys returns the cache key deriver.
func (d *Dispatcher) Keys() *cache.KeyDeriver { return d.keys }

// Dispatch runs every item in req and returns one result per item, ordered by
// index. Item failures are reported in their slot; the returned error is
// non-nil only when the request itself is malformed.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.BatchRequest, params types.Params, backendID, modelID string) (types.BatchResult, error) {
	if err := validateIndexes(req); err != nil {
		return nil, err
	}

	start := d.now()
	var deadline time.Time
	if d.cfg.BatchDeadline > 0 {
		deadline = start.Add(d.cfg.BatchDeadline)
	}

	ctx, span := observability.StartBatchSpan(ctx, d.tracer, backendID, modelID, len(req))
	defer span.End()
	d.metrics.Batch(backendID, len(req))

	results := make(types.BatchResult, len(req))
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)

	for _, item := range req {
		g.Go(func() error {
			results[item.Index] = d.runItem(ctx, item, params, backendID, modelID, deadline)
			return nil // item failures live in their slot
		})
	}
	_ = g.Wait()

	succeeded := results.Succeeded()
	d.logger.InfoContext(ctx, "batch dispatched",
		"backend", backendID,
		"model", modelID,
		"items", len(req),
		"succeeded", succeeded,
		"failed", len(req)-succeeded,
		"duration", d.now().Sub(start),
	)
	return results, nil
}

func validateIndexes(req types.BatchRequest) error {
	seen := make([]bool, len(req))
	for _, item := range req {
		if item.Index < 0 || item.Index >= len(req) {
			return fmt.Errorf("%w: item index %d out of range [0,%d)", llmerrors.ErrInvalidConfig, item.Index, len(req))
		}
		if seen[item.Index] {
			return fmt.Errorf("%w: duplicate item index %d", llmerrors.ErrInvalidConfig, item.Index)
		}
		seen[item.Index] = true
	}
	return nil
}

func (d *Dispatcher) runItem(ctx context.Context, item types.BatchItem, params types.Params, backendID, modelID string, deadline time.Time) types.Result {
	ctx, span := observability.StartItemSpan(ctx, d.tracer, item.Index)
	defer span.End()

	res := types.Result{Index: item.Index}
	if err := d.admit(ctx, deadline); err != nil {
		res.Err = d.timeoutError(backendID, modelID, err)
		d.finish(span, backendID, res)
		return res
	}

	d.metrics.InFlight(backendID, 1)
	defer d.metrics.InFlight(backendID, -1)

	var key cache.Key
	if d.store != nil {
		key = d.keys.Derive(item.Input, params, backendID, modelID)
		if out := d.lookup(ctx, key, backendID); out != nil {
			res.Output = out
			d.finish(span, backendID, res)
			return res
		}
	}

	out, err := d.submitWithRetry(ctx, item, params, backendID, modelID, deadline)
	if err != nil {
		res.Err = err
		d.finish(span, backendID, res)
		return res
	}

	if d.store != nil {
		werr := d.store.Put(ctx, key, out, d.cfg.CacheTTL)
		d.metrics.CacheWrite(backendID, werr)
		if werr != nil {
			d.logger.WarnContext(ctx, "cache write failed", "key", key.Digest(), "index", item.Index, "error", werr)
		}
	}
	res.Output = out
	d.finish(span, backendID, res)
	return res
}

// admit reports why an item must not start: the batch deadline has passed or
// the caller gave up.
func (d *Dispatcher) admit(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !deadline.IsZero() && !d.now().Before(deadline) {
		return errBatchDeadline
	}
	return nil
}

var errBatchDeadline = errors.New("batch deadline exceeded")

func (d *Dispatcher) lookup(ctx context.Context, key cache.Key, backendID string) *types.InferenceOutput {
	e, err := d.store.Get(ctx, key)
	switch {
	case err != nil:
		d.metrics.CacheLookup(backendID, metrics.CacheError)
		d.logger.WarnContext(ctx, "cache lookup failed, treating as miss", "key", key.Digest(), "error", err)
		return nil
	case e == nil:
		d.metrics.CacheLookup(backendID, metrics.CacheMiss)
		return nil
	}
	d.metrics.CacheLookup(backendID, metrics.CacheHit)
	out := e.Output.Clone()
	out.Cached = true
	return out
}

func (d *Dispatcher) submitWithRetry(ctx context.Context, item types.BatchItem, params types.Params, backendID, modelID string, deadline time.Time) (*types.InferenceOutput, error) {
	for attempt := 1; ; attempt++ {
		if err := d.wait(ctx, deadline); err != nil {
			return nil, d.timeoutError(backendID, modelID, err)
		}
		out, err := d.attempt(ctx, item, params, backendID, modelID)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, d.timeoutError(backendID, modelID, ctx.Err())
		}

		delay, ok := d.retry.ShouldRetry(err, attempt)
		kind := llmerrors.KindOf(err)
		if ok && !deadline.IsZero() && !d.now().Add(delay).Before(deadline) {
			ok = false
		}
		if !ok {
			if attempt > 1 {
				return nil, &retry.ExhaustedError{Attempts: attempt, Err: err}
			}
			return nil, err
		}

		d.metrics.Retry(backendID, string(kind))
		d.logger.DebugContext(ctx, "retrying item",
			"index", item.Index,
			"attempt", attempt,
			"kind", kind,
			"delay", delay,
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, d.timeoutError(backendID, modelID, err)
		}
	}
}

// wait takes a rate limiter token. Waiting never extends past the batch
// deadline.
func (d *Dispatcher) wait(ctx context.Context, deadline time.Time) error {
	if d.limiter == nil {
		return nil
	}
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if err := d.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			return errBatchDeadline
		}
		return err
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, item types.BatchItem, params types.Params, backendID, modelID string) (*types.InferenceOutput, error) {
	actx := ctx
	if d.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()
	}

	in := item.Input
	began := d.now()
	out, err := d.adapter.Submit(actx, &in, params)
	d.metrics.Attempt(backendID, modelID, d.now().Sub(began))

	switch {
	case err != nil:
		var le *llmerrors.LLMError
		if !errors.As(err, &le) && errors.Is(err, context.DeadlineExceeded) {
			return nil, d.timeoutError(backendID, modelID, err)
		}
		return nil, err
	case out == nil:
		return nil, llmerrors.NewUnknownError(backendID, modelID, errors.New("adapter returned no output"))
	}

	if out.Backend == "" {
		out.Backend = backendID
	}
	if out.Model == "" {
		out.Model = modelID
	}
	d.metrics.Tokens(backendID, out.Usage.PromptTokens, out.Usage.CompletionTokens)
	return out, nil
}

// timeoutError converts a deadline, cancellation or limiter failure into a
// Timeout result for the item.
func (d *Dispatcher) timeoutError(backendID, modelID string, cause error) error {
	var le *llmerrors.LLMError
	if errors.As(cause, &le) && le.Kind == llmerrors.KindTimeout {
		return cause
	}
	e := llmerrors.NewTimeoutError(backendID, modelID, cause.Error())
	e.Err = cause
	return e
}

func (d *Dispatcher) finish(span trace.Span, backendID string, res types.Result) {
	if res.Err != nil {
		kind := llmerrors.KindOf(res.Err)
		observability.RecordError(span, res.Err, string(kind))
		d.metrics.ItemDone(backendID, metrics.OutcomeError, string(kind))
		return
	}
	out := res.Output
	observability.RecordOutput(span, out.Usage.PromptTokens, out.Usage.CompletionTokens, out.FinishReason, out.Cached)
	if out.Cached {
		d.metrics.ItemDone(backendID, metrics.OutcomeCached, "")
		return
	}
	d.metrics.ItemDone(backendID, metrics.OutcomeSuccess, "")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
