package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/blueberrycongee/unillm"
)

const maxLineBytes = 16 << 20

// inputRecord is one JSONL input line. A line either carries a full
// conversation in messages or a bare prompt, optionally with a system
// prompt and an assistant prefill.
type inputRecord struct {
	ID      string `json:"id,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Prefill string `json:"prefill,omitempty"`
	unillm.InferenceInput
}

func (r inputRecord) input() (unillm.InferenceInput, error) {
	in := r.InferenceInput
	switch {
	case r.Prompt != "" && len(in.Messages) > 0:
		return in, fmt.Errorf("both prompt and messages given")
	case r.Prompt != "":
		in.Messages = unillm.NewInput(r.Prompt, "").Messages
	case len(in.Messages) == 0:
		return in, fmt.Errorf("no prompt or messages")
	}
	if r.Prefill != "" {
		in = in.WithPrefill(r.Prefill)
	}
	return in, in.Validate()
}

// readInputs parses JSONL, skipping blank lines.
func readInputs(r io.Reader) ([]inputRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	var records []inputRecord
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec inputRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	return records, nil
}

// outputRecord is one JSONL output line.
type outputRecord struct {
	Index     int                     `json:"index"`
	Repeat    int                     `json:"repeat,omitempty"`
	ID        string                  `json:"id,omitempty"`
	Cached    bool                    `json:"cached,omitempty"`
	Output    *unillm.InferenceOutput `json:"output,omitempty"`
	Error     string                  `json:"error,omitempty"`
	ErrorKind unillm.ErrorKind        `json:"error_kind,omitempty"`
}

func newOutputRecord(index int, id string, res unillm.Result) outputRecord {
	rec := outputRecord{Index: index, Repeat: res.Index, ID: id}
	if res.Err != nil {
		rec.Error = res.Err.Error()
		rec.ErrorKind = unillm.KindOf(res.Err)
		return rec
	}
	rec.Output = res.Output
	rec.Cached = res.Output != nil && res.Output.Cached
	return rec
}

type recordWriter struct {
	enc *json.Encoder
}

func newRecordWriter(w io.Writer) *recordWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &recordWriter{enc: enc}
}

func (w *recordWriter) write(rec outputRecord) error {
	return w.enc.Encode(rec)
}
