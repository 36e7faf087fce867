package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/blueberrycongee/unillm/caches/memory"
	"github.com/blueberrycongee/unillm/internal/metrics"
	"github.com/blueberrycongee/unillm/internal/retry"
	"github.com/blueberrycongee/unillm/pkg/cache"
	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/types"
	"github.com/blueberrycongee/unillm/providers/mock"
)

func fastRetry(maxAttempts int) *retry.Controller {
	return retry.NewController(retry.Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}, retry.WithRandSource(func() float64 { return 0.5 }))
}

func batchOf(prompts ...string) types.BatchRequest {
	inputs := make([]types.InferenceInput, len(prompts))
	for i, p := range prompts {
		inputs[i] = types.NewInput(p, "")
	}
	return types.NewBatch(inputs...)
}

func newDispatcher(t *testing.T, a *mock.Adapter, cfg Config, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(a, cfg, opts...)
	require.NoError(t, err)
	return d
}

func TestDispatch_OrderAndLength(t *testing.T) {
	// Later items finish first.
	a := mock.New(mock.WithHandler(func(_ int, in *types.InferenceInput) mock.Response {
		var n int
		fmt.Sscanf(in.LastUserContent(), "item-%d", &n)
		return mock.Response{Text: "out-" + in.LastUserContent(), Delay: time.Duration(10-n) * 5 * time.Millisecond}
	}))
	d := newDispatcher(t, a, Config{Concurrency: 10})

	prompts := make([]string, 10)
	for i := range prompts {
		prompts[i] = fmt.Sprintf("item-%d", i)
	}
	res, err := d.Dispatch(context.Background(), batchOf(prompts...), nil, "mock", "m")
	require.NoError(t, err)
	require.Len(t, res, 10)
	for i, r := range res {
		require.True(t, r.OK(), "item %d: %v", i, r.Err)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, "out-"+prompts[i], r.Output.Text)
	}
}

func TestDispatch_EmptyBatch(t *testing.T) {
	d := newDispatcher(t, mock.New(), Config{})
	res, err := d.Dispatch(context.Background(), nil, nil, "mock", "m")
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestDispatch_ConcurrencyCap(t *testing.T) {
	var cur, peak atomic.Int32
	a := mock.New(mock.WithHandler(func(int, *types.InferenceInput) mock.Response {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return mock.Response{Text: "ok"}
	}))
	d := newDispatcher(t, a, Config{Concurrency: 2})

	res, err := d.Dispatch(context.Background(), batchOf("a", "b", "c", "d", "e", "f"), nil, "mock", "m")
	require.NoError(t, err)
	assert.Equal(t, 6, res.Succeeded())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatch_RetryCeiling(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	a := mock.New(mock.WithHandler(func(int, *types.InferenceInput) mock.Response {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return mock.Response{Err: llmerrors.NewServiceUnavailableError("mock", "m", "down")}
	}))
	ctrl := retry.NewController(retry.Policy{
		MaxAttempts: 4,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
	}, retry.WithRandSource(func() float64 { return 0.5 }))
	d := newDispatcher(t, a, Config{}, WithRetry(ctrl))

	res, err := d.Dispatch(context.Background(), batchOf("x"), nil, "mock", "m")
	require.NoError(t, err)
	require.Error(t, res[0].Err)

	assert.Equal(t, 4, a.Calls())
	assert.Equal(t, 4, retry.Attempts(res[0].Err))
	assert.Equal(t, llmerrors.KindBackendUnavailable, llmerrors.KindOf(res[0].Err))

	require.Len(t, times, 4)
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), want[i-1])
	}
}

func TestDispatch_NonRetryableAttemptedOnce(t *testing.T) {
	for _, e := range []error{
		llmerrors.NewInvalidRequestError("mock", "m", "bad prompt"),
		llmerrors.NewAuthenticationError("mock", "m", "bad key"),
	} {
		a := mock.New(mock.WithResponses(mock.Response{Err: e}, mock.Response{Text: "never"}))
		d := newDispatcher(t, a, Config{}, WithRetry(fastRetry(5)))

		res, err := d.Dispatch(context.Background(), batchOf("x"), nil, "mock", "m")
		require.NoError(t, err)
		assert.Equal(t, 1, a.Calls())
		assert.Same(t, e, res[0].Err)
	}
}

func TestDispatch_UnknownRetriedOnce(t *testing.T) {
	a := mock.New(mock.WithHandler(func(int, *types.InferenceInput) mock.Response {
		return mock.Response{Err: errors.New("weird")}
	}))
	d := newDispatcher(t, a, Config{}, WithRetry(fastRetry(5)))

	res, err := d.Dispatch(context.Background(), batchOf("x"), nil, "mock", "m")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Calls())
	assert.Equal(t, llmerrors.KindUnknown, llmerrors.KindOf(res[0].Err))
}

func TestDispatch_RecoversAfterTransientFailure(t *testing.T) {
	a := mock.New(mock.WithResponses(
		mock.Response{Err: llmerrors.NewRateLimitError("mock", "m", "slow down", time.Millisecond)},
		mock.Response{Text: "fine"},
	))
	d := newDispatcher(t, a, Config{}, WithRetry(fastRetry(3)))

	res, err := d.Dispatch(context.Background(), batchOf("x"), nil, "mock", "m")
	require.NoError(t, err)
	require.True(t, res[0].OK())
	assert.Equal(t, "fine", res[0].Output.Text)
	assert.Equal(t, 2, a.Calls())
}

func TestDispatch_PerItemTimeout(t *testing.T) {
	a := mock.New(mock.WithHandler(func(_ int, in *types.InferenceInput) mock.Response {
		if in.LastUserContent() == "slow" {
			return mock.Response{Text: "late", Delay: time.Second}
		}
		return mock.Response{Text: "quick"}
	}))
	d := newDispatcher(t, a, Config{AttemptTimeout: 50 * time.Millisecond}, WithRetry(fastRetry(2)))

	res, err := d.Dispatch(context.Background(), batchOf("a", "slow", "c"), nil, "mock", "m")
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.True(t, res[0].OK())
	assert.True(t, llmerrors.Is(res[1].Err, llmerrors.KindTimeout), "got %v", res[1].Err)
	assert.Nil(t, res[1].Output)
	assert.True(t, res[2].OK())
}

func TestDispatch_CacheHit(t *testing.T) {
	a := mock.New(mock.WithHandler(func(call int, _ *types.InferenceInput) mock.Response {
		return mock.Response{Text: fmt.Sprintf("answer-%d", call)}
	}))
	store := memory.New(memory.DefaultConfig())
	defer store.Close()
	d := newDispatcher(t, a, Config{}, WithStore(store))
	ctx := context.Background()

	first, err := d.Dispatch(ctx, batchOf("2+2?"), nil, "mock", "m")
	require.NoError(t, err)
	require.True(t, first[0].OK())
	assert.False(t, first[0].Output.Cached)

	second, err := d.Dispatch(ctx, batchOf("2+2?"), nil, "mock", "m")
	require.NoError(t, err)
	require.True(t, second[0].OK())
	assert.Equal(t, "answer-1", second[0].Output.Text)
	assert.True(t, second[0].Output.Cached)
	assert.Equal(t, 1, a.Calls())

	// A different model is a different key.
	third, err := d.Dispatch(ctx, batchOf("2+2?"), nil, "mock", "other")
	require.NoError(t, err)
	assert.Equal(t, "answer-2", third[0].Output.Text)
}

func TestDispatch_FailuresAreNotCached(t *testing.T) {
	a := mock.New(mock.WithResponses(
		mock.Response{Err: llmerrors.NewInvalidRequestError("mock", "m", "no")},
		mock.Response{Text: "yes"},
	))
	store := memory.New(memory.DefaultConfig())
	defer store.Close()
	d := newDispatcher(t, a, Config{}, WithStore(store))

	res, _ := d.Dispatch(context.Background(), batchOf("q"), nil, "mock", "m")
	require.Error(t, res[0].Err)
	res, _ = d.Dispatch(context.Background(), batchOf("q"), nil, "mock", "m")
	require.True(t, res[0].OK())
	assert.Equal(t, "yes", res[0].Output.Text)
}

type brokenStore struct {
	cache.Store
}

func (brokenStore) Get(context.Context, cache.Key) (*cache.Entry, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Put(context.Context, cache.Key, *types.InferenceOutput, time.Duration) error {
	return errors.New("connection refused")
}

func TestDispatch_CacheErrorsDegradeToMiss(t *testing.T) {
	a := mock.New(mock.WithResponses(mock.Response{Text: "live"}))
	reg := prometheus.NewRegistry()
	d := newDispatcher(t, a, Config{}, WithStore(brokenStore{}), WithMetrics(metrics.NewCollector(reg)))

	res, err := d.Dispatch(context.Background(), batchOf("q"), nil, "mock", "m")
	require.NoError(t, err)
	require.True(t, res[0].OK())
	assert.Equal(t, "live", res[0].Output.Text)

	expected := `
# HELP unillm_cache_lookups_total Cache lookups by result (hit, miss, error)
# TYPE unillm_cache_lookups_total counter
unillm_cache_lookups_total{backend="mock",result="error"} 1
# HELP unillm_cache_writes_total Cache writes by result (ok, error)
# TYPE unillm_cache_writes_total counter
unillm_cache_writes_total{backend="mock",result="error"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"unillm_cache_lookups_total", "unillm_cache_writes_total"))
}

func TestDispatch_BatchDeadline(t *testing.T) {
	a := mock.New(mock.WithLatency(80 * time.Millisecond))
	d := newDispatcher(t, a, Config{Concurrency: 1, BatchDeadline: 120 * time.Millisecond})

	res, err := d.Dispatch(context.Background(), batchOf("a", "b", "c", "d"), nil, "mock", "m")
	require.NoError(t, err)
	require.Len(t, res, 4)

	// The second item starts before the deadline and is allowed to finish.
	assert.True(t, res[0].OK())
	assert.True(t, res[1].OK())
	for _, r := range res[2:] {
		assert.True(t, llmerrors.Is(r.Err, llmerrors.KindTimeout), "got %v", r.Err)
	}
	assert.Equal(t, 2, a.Calls())
}

func TestDispatch_NoRetryPastDeadline(t *testing.T) {
	a := mock.New(mock.WithHandler(func(int, *types.InferenceInput) mock.Response {
		return mock.Response{Err: llmerrors.NewRateLimitError("mock", "m", "wait", time.Second)}
	}))
	d := newDispatcher(t, a, Config{BatchDeadline: 200 * time.Millisecond}, WithRetry(fastRetry(5)))

	start := time.Now()
	res, err := d.Dispatch(context.Background(), batchOf("x"), nil, "mock", "m")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Calls())
	assert.True(t, llmerrors.Is(res[0].Err, llmerrors.KindRateLimited))
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatch_CanceledContext(t *testing.T) {
	a := mock.New()
	d := newDispatcher(t, a, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.Dispatch(ctx, batchOf("a", "b"), nil, "mock", "m")
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.True(t, llmerrors.Is(r.Err, llmerrors.KindTimeout))
	}
	assert.Equal(t, 0, a.Calls())
}

func TestDispatch_RateLimit(t *testing.T) {
	a := mock.New()
	d := newDispatcher(t, a, Config{Concurrency: 5, RateLimit: 20, RateBurst: 1})

	start := time.Now()
	res, err := d.Dispatch(context.Background(), batchOf("a", "b", "c", "d", "e"), nil, "mock", "m")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Succeeded())
	// One token up front, then one every 50ms.
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestDispatch_Metrics(t *testing.T) {
	a := mock.New(mock.WithHandler(func(_ int, in *types.InferenceInput) mock.Response {
		if in.LastUserContent() == "bad" {
			return mock.Response{Err: llmerrors.NewInvalidRequestError("mock", "m", "no")}
		}
		return mock.Response{Text: "ok"}
	}))
	reg := prometheus.NewRegistry()
	d := newDispatcher(t, a, Config{}, WithMetrics(metrics.NewCollector(reg)))

	_, err := d.Dispatch(context.Background(), batchOf("a", "bad", "c"), nil, "mock", "m")
	require.NoError(t, err)

	expected := `
# HELP unillm_items_total Batch items completed, by outcome and error kind
# TYPE unillm_items_total counter
unillm_items_total{backend="mock",error_kind="",outcome="success"} 2
unillm_items_total{backend="mock",error_kind="invalid_request",outcome="error"} 1
# HELP unillm_backend_attempts_total Calls made to a backend adapter
# TYPE unillm_backend_attempts_total counter
unillm_backend_attempts_total{backend="mock"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"unillm_items_total", "unillm_backend_attempts_total"))
}

func TestDispatch_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer("test")
	d := newDispatcher(t, mock.New(), Config{}, WithTracer(tracer))

	_, err := d.Dispatch(context.Background(), batchOf("a", "b"), nil, "mock", "m")
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 3)
	var batch sdktrace.ReadOnlySpan
	for _, s := range spans {
		if s.Name() == "unillm.batch" {
			batch = s
		}
	}
	require.NotNil(t, batch)
	for _, s := range spans {
		if s.Name() == "unillm.item" {
			assert.Equal(t, batch.SpanContext().SpanID(), s.Parent().SpanID())
		}
	}
}

func TestDispatch_SetupErrors(t *testing.T) {
	_, err := New(nil, Config{})
	assert.ErrorIs(t, err, llmerrors.ErrInvalidConfig)

	_, err = New(mock.New(), Config{Concurrency: -1})
	assert.ErrorIs(t, err, llmerrors.ErrInvalidConfig)

	d := newDispatcher(t, mock.New(), Config{})
	ctx := context.Background()
	in := types.NewInput("x", "")

	_, err = d.Dispatch(ctx, types.BatchRequest{{Index: 0, Input: in}, {Index: 0, Input: in}}, nil, "mock", "m")
	assert.ErrorIs(t, err, llmerrors.ErrInvalidConfig)

	_, err = d.Dispatch(ctx, types.BatchRequest{{Index: 3, Input: in}}, nil, "mock", "m")
	assert.ErrorIs(t, err, llmerrors.ErrInvalidConfig)
}

func TestDispatch_OutOfOrderIndexes(t *testing.T) {
	d := newDispatcher(t, mock.New(), Config{})
	req := types.BatchRequest{
		{Index: 1, Input: types.NewInput("second", "")},
		{Index: 0, Input: types.NewInput("first", "")},
	}
	res, err := d.Dispatch(context.Background(), req, nil, "mock", "m")
	require.NoError(t, err)
	assert.Equal(t, "echo: first", res[0].Output.Text)
	assert.Equal(t, "echo: second", res[1].Output.Text)
}
