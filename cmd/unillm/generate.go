package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/unillm"
)

func newGenerateCmd(root *rootOptions) *cobra.Command {
	var (
		system  string
		prefill string
		repeat  int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run one prompt and print the reply",
		Long: `Run one prompt and print the reply. The prompt is read from stdin when
it is omitted or given as "-". With --repeat the prompt is sampled several
times; every sample is cached separately.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			text, err := promptArg(cmd, args)
			if err != nil {
				return err
			}
			input := unillm.NewInput(text, system)
			if prefill != "" {
				input = input.WithPrefill(prefill)
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

			rows, err := client.GenerateRepeated(cmd.Context(), []unillm.InferenceInput{input}, repeat)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var failed int
			if asJSON {
				w := newRecordWriter(out)
				for _, res := range rows[0] {
					if res.Err != nil {
						failed++
					}
					if err := w.write(newOutputRecord(0, "", res)); err != nil {
						return err
					}
				}
			} else {
				for _, res := range rows[0] {
					if res.Err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "error (%s): %v\n", unillm.KindOf(res.Err), res.Err)
						continue
					}
					fmt.Fprintln(out, res.Output.Text)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d samples failed", failed, repeat)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&system, "system", "s", "", "system prompt")
	f.StringVar(&prefill, "prefill", "", "start the reply with this text")
	f.IntVarP(&repeat, "repeat", "n", 1, "number of samples")
	f.BoolVar(&asJSON, "json", false, "print one JSON record per sample")
	return cmd
}
