package dispatch

import (
	"fmt"
	"time"

	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
)

// DefaultConcurrency is the worker pool size used when Config leaves it unset.
const DefaultConcurrency = 8

// Config holds the dispatcher settings.
type Config struct {
	// Concurrency caps in-flight items. Zero means DefaultConcurrency.
	Concurrency int `yaml:"concurrency"`

	// BatchDeadline is the overall budget for one Dispatch call. Items not
	// started when it passes fail with a timeout without being submitted.
	// Zero disables it.
	BatchDeadline time.Duration `yaml:"batch_deadline"`

	// AttemptTimeout bounds a single adapter call. Zero leaves timing to the
	// adapter.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// RateLimit is the sustained number of adapter calls per second across
	// the whole dispatcher. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// CacheTTL is passed to the store on write-through: 0 selects the store
	// default, negative means no expiry. It is configured under cache.ttl.
	CacheTTL time.Duration `yaml:"-"`
}

// DefaultConfig returns the settings used by the façade when none are given.
func DefaultConfig() Config {
	return Config{Concurrency: DefaultConcurrency}
}

// Validate rejects settings the dispatcher cannot run with.
func (c Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: negative concurrency %d", llmerrors.ErrInvalidConfig, c.Concurrency)
	}
	if c.BatchDeadline < 0 {
		return fmt.Errorf("%w: negative batch deadline", llmerrors.ErrInvalidConfig)
	}
	if c.AttemptTimeout < 0 {
		return fmt.Errorf("%w: negative attempt timeout", llmerrors.ErrInvalidConfig)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("%w: negative rate limit", llmerrors.ErrInvalidConfig)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = 1
	}
	return c
}
