package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/unillm"
)

func newKeyCmd(root *rootOptions) *cobra.Command {
	var (
		system string
		repeat int
	)
	cmd := &cobra.Command{
		Use:   "key [prompt]",
		Short: "Print the cache key a prompt maps to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			text, err := promptArg(cmd, args)
			if err != nil {
				return err
			}
			client, err := root.newClient(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := root.closeClient(client); err == nil {
					err = cerr
				}
			}()

			input := unillm.NewInput(text, system).WithRepeatIndex(repeat)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), client.Key(input))
			return err
		},
	}
	cmd.Flags().StringVarP(&system, "system", "s", "", "system prompt")
	cmd.Flags().IntVar(&repeat, "repeat-index", 0, "repeat index of the sample")
	return cmd
}
