// Package config loads the YAML configuration consumed by the CLI and by
// unillm.NewFromConfig.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/unillm/caches"
	"github.com/blueberrycongee/unillm/internal/dispatch"
	"github.com/blueberrycongee/unillm/internal/observability"
	"github.com/blueberrycongee/unillm/internal/retry"
	"github.com/blueberrycongee/unillm/internal/secret"
	"github.com/blueberrycongee/unillm/pkg/prompt"
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// Config represents the complete client configuration.
type Config struct {
	Backend  provider.Config             `yaml:"backend"`
	Params   types.Params                `yaml:"params"`
	Prompt   prompt.Spec                 `yaml:"prompt,omitempty"`
	Cache    CacheConfig                 `yaml:"cache"`
	Retry    retry.Policy                `yaml:"retry"`
	Dispatch dispatch.Config             `yaml:"dispatch"`
	Secrets  secret.Config               `yaml:"secrets"`
	Logging  observability.LoggerConfig  `yaml:"logging"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig               `yaml:"metrics"`
}

// CacheConfig selects the output cache and how keys are derived.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// TTL is applied on write: 0 selects the store default, negative means
	// entries never expire.
	TTL time.Duration `yaml:"ttl"`

	// ForceRefresh skips lookups but still writes fresh outputs.
	ForceRefresh bool `yaml:"force_refresh"`

	// Key derivation. Changing KeyVersion invalidates every existing entry.
	KeyPrefix  string `yaml:"key_prefix"`
	Namespace  string `yaml:"namespace"`
	KeyVersion string `yaml:"key_version"`

	caches.Config `yaml:",inline"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: provider.Config{
			Timeout: 60 * time.Second,
		},
		Cache: CacheConfig{
			Config: caches.DefaultConfig(),
		},
		Retry:    retry.DefaultPolicy(),
		Dispatch: dispatch.DefaultConfig(),
		Secrets: secret.Config{
			CacheTTL: 5 * time.Minute,
		},
		Logging: observability.DefaultLoggerConfig(),
		Tracing: observability.DefaultTracingConfig(),
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without validating the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if c.Cache.Enabled {
		switch c.Cache.Type {
		case caches.TypeMemory, caches.TypeSQLite, caches.TypeJSONFile,
			caches.TypeRedis, caches.TypeS3, caches.TypePostgres, caches.TypeDual, "":
		default:
			return fmt.Errorf("cache: unknown type %q", c.Cache.Type)
		}
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	switch c.Tracing.Protocol {
	case "", observability.ProtocolGRPC, observability.ProtocolHTTP:
	default:
		return fmt.Errorf("tracing: unknown protocol %q", c.Tracing.Protocol)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	return nil
}
