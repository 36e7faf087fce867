package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/unillm"
)

func newBatchCmd(root *rootOptions) *cobra.Command {
	var (
		inPath  string
		outPath string
		repeat  int
		strict  bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a JSONL file of prompts",
		Long: `Run every line of a JSONL file as one batch and write one JSONL record
per result, in input order. An input line is either

  {"id": "q1", "prompt": "2+2?", "system_prompt": "Answer briefly."}

or a full conversation:

  {"id": "q2", "messages": [{"role": "user", "content": "hi"}]}

Item failures are written as records with error and error_kind set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			var in io.Reader = cmd.InOrStdin()
			if inPath != "" && inPath != "-" {
				f, err := os.Open(inPath)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			records, err := readInputs(in)
			if err != nil {
				return err
			}
			inputs := make([]unillm.InferenceInput, len(records))
			for i, rec := range records {
				if inputs[i], err = rec.input(); err != nil {
					return fmt.Errorf("%w: input %d: %v", unillm.ErrInvalidConfig, i, err)
				}
			}

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer func() {
					if cerr := f.Close(); err == nil {
						err = cerr
					}
				}()
				out = f
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

			rows, err := client.GenerateRepeated(cmd.Context(), inputs, repeat)
			if err != nil {
				return err
			}

			w := newRecordWriter(out)
			var failed, cached int
			for i, row := range rows {
				for _, res := range row {
					rec := newOutputRecord(i, records[i].ID, res)
					if rec.Error != "" {
						failed++
					}
					if rec.Cached {
						cached++
					}
					if err := w.write(rec); err != nil {
						return err
					}
				}
			}

			total := len(inputs) * repeat
			fmt.Fprintf(cmd.ErrOrStderr(), "%d results, %d cached, %d failed\n", total, cached, failed)
			if strict && failed > 0 {
				return fmt.Errorf("%d of %d items failed", failed, total)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&inPath, "input", "i", "-", "JSONL input file, - for stdin")
	f.StringVarP(&outPath, "output", "o", "-", "JSONL output file, - for stdout")
	f.IntVarP(&repeat, "repeat", "n", 1, "samples per input")
	f.BoolVar(&strict, "strict", false, "exit non-zero when any item fails")
	return cmd
}
