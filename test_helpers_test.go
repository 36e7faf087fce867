package unillm

import "github.com/blueberrycongee/unillm/internal/config"

// DefaultTestConfig returns a valid configuration backed by the echo mock.
func DefaultTestConfig() *Config {
	cfg := config.DefaultConfig()
	cfg.Backend.Type = "mock"
	cfg.Backend.Model = "mock-model"
	cfg.Logging.Level = "error"
	return cfg
}
