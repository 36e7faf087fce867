package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
)

func fixedJitter(v float64) Option {
	return WithRandSource(func() float64 { return v })
}

func TestController_ShouldRetry(t *testing.T) {
	c := NewController(Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		fixedJitter(0.5))

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"auth is terminal", llmerrors.NewAuthenticationError("b", "m", "bad key"), 1, false},
		{"invalid request is terminal", llmerrors.NewInvalidRequestError("b", "m", "bad"), 1, false},
		{"unavailable retried", llmerrors.NewServiceUnavailableError("b", "m", "down"), 1, true},
		{"unavailable until ceiling", llmerrors.NewServiceUnavailableError("b", "m", "down"), 3, true},
		{"unavailable at ceiling", llmerrors.NewServiceUnavailableError("b", "m", "down"), 4, false},
		{"timeout retried", llmerrors.NewTimeoutError("b", "m", "slow"), 2, true},
		{"rate limit retried", llmerrors.NewRateLimitError("b", "m", "429", 0), 1, true},
		{"unknown retried once", errors.New("boom"), 1, true},
		{"unknown not twice", errors.New("boom"), 2, false},
		{"nil never", nil, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := c.ShouldRetry(tt.err, tt.attempt)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestController_Backoff(t *testing.T) {
	// jitter factor 1.0 at the midpoint of [0.5, 1.5)
	c := NewController(Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		fixedJitter(0.5))

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, c.Backoff(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, c.Backoff(200), "huge exponents saturate at the cap")
}

func TestController_RetryAfterTakesPrecedence(t *testing.T) {
	c := NewController(Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second})

	err := llmerrors.NewRateLimitError("b", "m", "slow down", 5*time.Second)
	d, ok := c.ShouldRetry(fmt.Errorf("wrapped: %w", err), 1)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d, "hint is used as given, above MaxDelay")
}

func TestController_CeilingWithAlwaysFailingBackend(t *testing.T) {
	c := NewController(Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second}, fixedJitter(0.25))
	err := llmerrors.NewServiceUnavailableError("b", "m", "down")

	attempts := 1
	var delays []time.Duration
	for {
		d, ok := c.ShouldRetry(err, attempts)
		if !ok {
			break
		}
		delays = append(delays, d)
		attempts++
	}
	assert.Equal(t, 5, attempts)
	require.Len(t, delays, 4)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

func TestController_BackoffBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := time.Duration(rapid.Int64Range(1, int64(time.Second)).Draw(rt, "base"))
		maxDelay := base * time.Duration(rapid.Int64Range(1, 1000).Draw(rt, "factor"))
		attempt := rapid.IntRange(1, 64).Draw(rt, "attempt")
		r := rapid.Float64Range(0, 0.999999).Draw(rt, "rand")

		c := NewController(Policy{MaxAttempts: 100, BaseDelay: base, MaxDelay: maxDelay}, fixedJitter(r))
		d := c.Backoff(attempt)

		if d > maxDelay {
			rt.Fatalf("delay %s above cap %s", d, maxDelay)
		}
		floor := float64(base) * 0.5
		if d < time.Duration(floor)-1 && d != maxDelay {
			rt.Fatalf("delay %s below jittered base %s", d, time.Duration(floor))
		}
	})
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, Policy{}.Validate(), "zero policy takes defaults")
	assert.NoError(t, DefaultPolicy().Validate())
	assert.NoError(t, Policy{JitterMin: 1, JitterMax: 1}.Validate())

	bad := []Policy{
		{MaxAttempts: -1},
		{BaseDelay: -time.Second},
		{BaseDelay: time.Minute, MaxDelay: time.Second},
		{JitterMin: 1.5, JitterMax: 0.5},
		{UnknownMaxAttempts: -2},
	}
	for _, p := range bad {
		err := p.Validate()
		assert.ErrorIs(t, err, llmerrors.ErrInvalidConfig, "%+v", p)
	}
}

func TestExhaustedError(t *testing.T) {
	inner := llmerrors.NewTimeoutError("b", "m", "slow")
	err := &ExhaustedError{Attempts: 3, Err: inner}

	assert.Equal(t, llmerrors.KindTimeout, llmerrors.KindOf(err))
	assert.Equal(t, 3, Attempts(err))
	assert.Equal(t, 1, Attempts(inner))
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}
