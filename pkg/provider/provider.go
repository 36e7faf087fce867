// Package provider defines the contract between the dispatcher and a concrete
// inference backend. Each backend family (hosted API, locally served model,
// batch engine) implements Adapter; the core never holds a concrete type.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// BackendKind tells what sort of backend an adapter talks to.
type BackendKind string

const (
	KindAPI         BackendKind = "api"
	KindLocalModel  BackendKind = "local-model"
	KindBatchEngine BackendKind = "batch-engine"
)

// Adapter executes one inference request against one backend.
type Adapter interface {
	// Name returns the backend identifier used in cache keys and logs.
	Name() string

	// Kind reports the backend family.
	Kind() BackendKind

	// Submit runs a single request. Failures are returned as *errors.LLMError
	// so the retry controller can classify them.
	Submit(ctx context.Context, input *types.InferenceInput, params types.Params) (*types.InferenceOutput, error)

	// Close releases connections held by the adapter.
	Close() error
}

// Config describes one backend.
type Config struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Model   string            `yaml:"model"`
	APIKey  string            `yaml:"api_key"` // literal, env://NAME or vault://path#key
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`

	// MaxConcurrent hints the dispatcher's fan-out for this backend. Zero
	// leaves the dispatcher default in place.
	MaxConcurrent int `yaml:"max_concurrent"`

	// AllowPrivateBaseURL permits loopback and private hosts. Local model
	// and batch engine presets set it on their own.
	AllowPrivateBaseURL bool `yaml:"allow_private_base_url"`
}

// Validate checks the fields every adapter relies on. Base URLs are checked
// by the factories, which know whether the backend is expected to be local.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Type) == "" {
		return fmt.Errorf("%w: backend type is required", llmerrors.ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: backend %q: model is required", llmerrors.ErrInvalidConfig, c.Type)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: backend %q: negative timeout", llmerrors.ErrInvalidConfig, c.Type)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("%w: backend %q: negative max_concurrent", llmerrors.ErrInvalidConfig, c.Type)
	}
	return nil
}

// Factory creates an adapter from configuration.
type Factory func(cfg Config) (Adapter, error)
