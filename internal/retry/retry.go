// Package retry decides whether a failed backend call is attempted again and
// how long to wait first.
package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
)

// Policy configures the retry controller. Zero fields take the value from
// DefaultPolicy.
type Policy struct {
	// MaxAttempts counts the first call. 1 disables retries.
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`

	// Each computed delay is scaled by a factor drawn uniformly from
	// [JitterMin, JitterMax). Set both to 1 for no jitter.
	JitterMin float64 `yaml:"jitter_min"`
	JitterMax float64 `yaml:"jitter_max"`

	// UnknownMaxAttempts caps attempts for unclassified failures.
	UnknownMaxAttempts int `yaml:"unknown_max_attempts"`
}

// DefaultPolicy returns the stock policy: 3 attempts, 500ms doubling up to 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:        3,
		BaseDelay:          500 * time.Millisecond,
		MaxDelay:           30 * time.Second,
		JitterMin:          0.5,
		JitterMax:          1.5,
		UnknownMaxAttempts: 2,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.JitterMin == 0 && p.JitterMax == 0 {
		p.JitterMin, p.JitterMax = def.JitterMin, def.JitterMax
	}
	if p.UnknownMaxAttempts == 0 {
		p.UnknownMaxAttempts = def.UnknownMaxAttempts
	}
	return p
}

// Validate reports a malformed policy.
func (p Policy) Validate() error {
	p = p.withDefaults()
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: retry max_attempts must be >= 1", llmerrors.ErrInvalidConfig)
	case p.BaseDelay < 0 || p.MaxDelay < 0:
		return fmt.Errorf("%w: retry delays must be non-negative", llmerrors.ErrInvalidConfig)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("%w: retry max_delay %s below base_delay %s",
			llmerrors.ErrInvalidConfig, p.MaxDelay, p.BaseDelay)
	case p.JitterMin < 0 || p.JitterMax < p.JitterMin:
		return fmt.Errorf("%w: retry jitter range [%g, %g) is invalid",
			llmerrors.ErrInvalidConfig, p.JitterMin, p.JitterMax)
	case p.UnknownMaxAttempts < 1:
		return fmt.Errorf("%w: retry unknown_max_attempts must be >= 1", llmerrors.ErrInvalidConfig)
	}
	return nil
}

// Controller applies a Policy. It is safe for concurrent use.
type Controller struct {
	policy Policy

	mu   sync.Mutex
	rand func() float64
}

// Option configures a Controller.
type Option func(*Controller)

// WithRandSource replaces the jitter source. fn must return values in [0, 1).
func WithRandSource(fn func() float64) Option {
	return func(c *Controller) { c.rand = fn }
}

// NewController creates a controller for p.
func NewController(p Policy, opts ...Option) *Controller {
	c := &Controller{
		policy: p.withDefaults(),
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the effective policy.
func (c *Controller) Policy() Policy { return c.policy }

// MaxAttempts returns the attempt budget for failures of kind.
func (c *Controller) MaxAttempts(kind llmerrors.Kind) int {
	switch kind {
	case llmerrors.KindAuthFailure, llmerrors.KindInvalidRequest:
		return 1
	case llmerrors.KindUnknown, "":
		return min(c.policy.MaxAttempts, c.policy.UnknownMaxAttempts)
	default:
		return c.policy.MaxAttempts
	}
}

// ShouldRetry reports whether another attempt follows a failure, and the wait
// before it. attempt is the number of attempts made so far, starting at 1.
// A retry-after hint carried by err replaces the computed delay.
func (c *Controller) ShouldRetry(err error, attempt int) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	return c.ShouldRetryKind(llmerrors.KindOf(err), attempt, llmerrors.RetryAfterOf(err))
}

// ShouldRetryKind is ShouldRetry for an already classified failure.
func (c *Controller) ShouldRetryKind(kind llmerrors.Kind, attempt int, retryAfter time.Duration) (time.Duration, bool) {
	if attempt >= c.MaxAttempts(kind) {
		return 0, false
	}
	if retryAfter > 0 {
		return retryAfter, true
	}
	return c.Backoff(attempt), true
}

// Backoff returns BaseDelay * 2^(attempt-1) scaled by jitter, capped at
// MaxDelay.
func (c *Controller) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := math.Pow(2, float64(attempt-1))
	d := float64(c.policy.BaseDelay) * exp * c.jitter()
	if d >= float64(c.policy.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return c.policy.MaxDelay
	}
	return time.Duration(d)
}

func (c *Controller) jitter() float64 {
	lo, hi := c.policy.JitterMin, c.policy.JitterMax
	if hi <= lo {
		return lo
	}
	c.mu.Lock()
	r := c.rand()
	c.mu.Unlock()
	return lo + r*(hi-lo)
}

// ExhaustedError marks a failure whose retry budget ran out. It unwraps to
// the last attempt's error, so its kind is preserved.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Attempts returns the attempt count recorded in err, or 1 when err was
// surfaced without retrying.
func Attempts(err error) int {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	return 1
}
