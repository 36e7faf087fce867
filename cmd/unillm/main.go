// Command unillm runs prompts against one configured backend with response
// caching, retries and bounded concurrency.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/unillm"
)

type rootOptions struct {
	configPath  string
	overrides   []string
	dryRun      bool
	metricsFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "unillm",
		Short:         "Cached, retrying batch inference against LLM backends",
		Version:       unillm.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	pf.StringArrayVar(&opts.overrides, "set", nil, "override a config value, e.g. --set retry.max_attempts=5 (repeatable)")
	pf.BoolVar(&opts.dryRun, "dry-run", false, "use the echoing mock backend instead of the configured one")
	pf.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")

	root.AddCommand(
		newGenerateCmd(opts),
		newBatchCmd(opts),
		newKeyCmd(opts),
		newCacheCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode separates setup problems (bad config, unknown backend) from
// failures while running.
func exitCode(err error) int {
	if unillm.IsSetupError(err) {
		return 2
	}
	return 1
}
