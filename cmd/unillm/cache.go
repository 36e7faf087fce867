package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/unillm"
	"github.com/blueberrycongee/unillm/caches"
	"github.com/blueberrycongee/unillm/pkg/cache"
)

type (
	counter interface{ Len() int }

	rowCounter interface {
		Len(ctx context.Context) (int, error)
	}

	preloader interface {
		Preload(ctx context.Context, dir string) (int, error)
	}
)

func newCacheCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the response cache",
	}

	// withStore opens the configured store for the duration of fn. The
	// backend section is not needed and not checked.
	withStore := func(cmd *cobra.Command, fn func(context.Context, cache.Store, caches.Type) error) (err error) {
		cfg, err := root.loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, err := caches.New(ctx, cfg.Cache.Config)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := store.Close(); err == nil {
				err = cerr
			}
		}()
		return fn(ctx, store, cfg.Cache.Type)
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Check the store and show its size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store cache.Store, typ caches.Type) error {
				out := cmd.OutOrStdout()
				if err := store.Ping(ctx); err != nil {
					return fmt.Errorf("ping: %w", err)
				}
				fmt.Fprintf(out, "Type:    %s\n", typ)
				switch s := store.(type) {
				case rowCounter:
					n, err := s.Len(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Entries: %d\n", n)
				case counter:
					fmt.Fprintf(out, "Entries: %d\n", s.Len())
				default:
					fmt.Fprintln(out, "Entries: unknown")
				}
				return nil
			})
		},
	}

	var expiredOnly bool
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store cache.Store, _ caches.Type) error {
				p, ok := store.(cache.Purger)
				if !ok {
					return errors.New("this cache type does not support purging")
				}
				n, err := p.Purge(ctx, expiredOnly)
				if err != nil {
					return err
				}
				what := "entries"
				if expiredOnly {
					what = "expired entries"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s.\n", n, what)
				return nil
			})
		},
	}
	purgeCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only remove expired entries")

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one cache entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store cache.Store, _ caches.Type) error {
				e, err := store.Get(ctx, cache.Key(args[0]))
				if err != nil {
					return err
				}
				if e == nil {
					return fmt.Errorf("key %s not found", args[0])
				}
				enc := newRecordWriter(cmd.OutOrStdout()).enc
				return enc.Encode(e)
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <key>...",
		Short: "Delete cache entries by key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store cache.Store, _ caches.Type) error {
				for _, k := range args {
					if err := store.Delete(ctx, cache.Key(k)); err != nil {
						return fmt.Errorf("delete %s: %w", k, err)
					}
				}
				return nil
			})
		},
	}

	preloadCmd := &cobra.Command{
		Use:   "preload <dir>",
		Short: "Import a jsonfile cache directory into a redis cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store cache.Store, typ caches.Type) error {
				p, ok := store.(preloader)
				if !ok {
					return fmt.Errorf("%w: preload needs a redis cache, got %s", unillm.ErrInvalidConfig, typ)
				}
				n, err := p.Preload(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries.\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(statsCmd, purgeCmd, getCmd, deleteCmd, preloadCmd)
	return cmd
}
