// Package mock provides a scripted adapter for tests and dry runs. Replies
// are taken from a queue in order; once the queue is drained the adapter
// echoes the last user turn.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// ProviderName is the default identifier for this adapter.
const ProviderName = "mock"

// Response is one scripted reply. Exactly one of Text or Err is meaningful;
// Delay is slept before replying and honors context cancellation.
type Response struct {
	Text  string
	Err   error
	Delay time.Duration
}

// RecordedRequest stores one Submit call.
type RecordedRequest struct {
	Input  types.InferenceInput
	Params types.Params
	Time   time.Time
}

// Adapter is a scripted provider.Adapter.
type Adapter struct {
	name  string
	kind  provider.BackendKind
	model string

	mu       sync.Mutex
	queue    []Response
	handler  func(call int, in *types.InferenceInput) Response
	latency  time.Duration
	requests []RecordedRequest
	closed   bool
}

// Option configures the mock adapter.
type Option func(*Adapter)

// WithName sets the backend identifier.
func WithName(name string) Option {
	return func(a *Adapter) { a.name = name }
}

// WithKind sets the reported backend family.
func WithKind(kind provider.BackendKind) Option {
	return func(a *Adapter) { a.kind = kind }
}

// WithModel sets the model reported in outputs.
func WithModel(model string) Option {
	return func(a *Adapter) { a.model = model }
}

// WithResponses queues replies.
func WithResponses(rs ...Response) Option {
	return func(a *Adapter) { a.queue = append(a.queue, rs...) }
}

// WithHandler computes every reply from the call number (starting at 1) and
// the input. It takes precedence over queued replies.
func WithHandler(fn func(call int, in *types.InferenceInput) Response) Option {
	return func(a *Adapter) { a.handler = fn }
}

// WithLatency adds a fixed delay to every reply.
func WithLatency(d time.Duration) Option {
	return func(a *Adapter) { a.latency = d }
}

// New creates a mock adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		name:  ProviderName,
		kind:  provider.KindAPI,
		model: "mock-model",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFromConfig creates an echoing mock from configuration.
func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	opts := []Option{WithModel(cfg.Model)}
	if cfg.Name != "" {
		opts = append(opts, WithName(cfg.Name))
	}
	return New(opts...), nil
}

// Name returns the backend identifier.
func (a *Adapter) Name() string { return a.name }

// Kind returns the configured backend family.
func (a *Adapter) Kind() provider.BackendKind { return a.kind }

// Model returns the model id stamped on outputs.
func (a *Adapter) Model() string { return a.model }

// Enqueue appends replies to the queue.
func (a *Adapter) Enqueue(rs ...Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, rs...)
}

// Submit returns the next scripted reply.
func (a *Adapter) Submit(ctx context.Context, input *types.InferenceInput, params types.Params) (*types.InferenceOutput, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, llmerrors.NewServiceUnavailableError(a.name, a.model, "adapter closed")
	}
	a.requests = append(a.requests, RecordedRequest{
		Input:  input.Clone(),
		Params: params.Clone(),
		Time:   time.Now(),
	})
	call := len(a.requests)

	var resp Response
	switch {
	case a.handler != nil:
		a.mu.Unlock()
		resp = a.handler(call, input)
		a.mu.Lock()
	case len(a.queue) > 0:
		resp = a.queue[0]
		a.queue = a.queue[1:]
	default:
		resp = Response{Text: "echo: " + input.LastUserContent()}
	}
	delay := a.latency + resp.Delay
	a.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				e := llmerrors.NewTimeoutError(a.name, a.model, "deadline exceeded while waiting for reply")
				e.Err = ctx.Err()
				return nil, e
			}
			return nil, ctx.Err()
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}
	return &types.InferenceOutput{
		Text:         resp.Text,
		FinishReason: "stop",
		Usage: types.Usage{
			PromptTokens:     len(input.LastUserContent()),
			CompletionTokens: len(resp.Text),
			TotalTokens:      len(input.LastUserContent()) + len(resp.Text),
		},
		Backend: a.name,
		Model:   a.model,
	}, nil
}

// Calls returns how many times Submit was invoked.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

// Requests returns a copy of every recorded call.
func (a *Adapter) Requests() []RecordedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RecordedRequest, len(a.requests))
	copy(out, a.requests)
	return out
}

// Close marks the adapter closed; later calls fail as unavailable.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
