package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/blueberrycongee/unillm"
	"github.com/blueberrycongee/unillm/internal/config"
	"github.com/blueberrycongee/unillm/providers/mock"
)

// loadConfig reads the config file, if any, and applies --set overrides and
// --dry-run. Validation is left to the caller.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		data, err := os.ReadFile(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = config.Parse(data); err != nil {
			return nil, fmt.Errorf("%w: %v", unillm.ErrInvalidConfig, err)
		}
	}
	if err := cfg.ApplyOverrides(o.overrides...); err != nil {
		return nil, fmt.Errorf("%w: %v", unillm.ErrInvalidConfig, err)
	}
	if o.dryRun {
		cfg.Backend.Type = mock.ProviderName
		cfg.Backend.APIKey = ""
		cfg.Backend.BaseURL = ""
		if cfg.Backend.Model == "" {
			cfg.Backend.Model = "mock-model"
		}
	}
	return cfg, nil
}

func (o *rootOptions) newClient(cmd *cobra.Command) (*unillm.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Logging.Output = cmd.ErrOrStderr()
	if o.metricsFile != "" {
		cfg.Metrics.Enabled = true
	}
	return unillm.NewFromConfig(cmd.Context(), cfg)
}

// closeClient writes the metrics file, when asked for, and closes c.
func (o *rootOptions) closeClient(c *unillm.Client) error {
	var errs []error
	if g := c.Gatherer(); o.metricsFile != "" && g != nil {
		if err := prometheus.WriteToTextfile(o.metricsFile, g); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	errs = append(errs, c.Close())
	return errors.Join(errs...)
}

// promptArg returns the single prompt argument, or stdin when it is absent
// or "-".
func promptArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return "", errors.New("empty prompt")
	}
	return text, nil
}
