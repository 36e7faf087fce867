package prompt

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/unillm/pkg/types"
)

// JSONName is the registry name of the JSON builder.
const JSONName = "json"

// DefaultJSONInstruction asks the model for a bare JSON reply.
const DefaultJSONInstruction = "Respond with a single JSON value and nothing else."

// JSON decodes the first JSON object or array in the response text into
// ParsedOutput. A fenced code block, if present, is searched first.
type JSON struct {
	instruction string
	fence       *CodeBlock
}

// NewJSON creates a JSON builder.
func NewJSON(instruction string) *JSON {
	return &JSON{instruction: instruction, fence: NewCodeBlock("", "")}
}

func newJSONFromConfig(cfg map[string]any) (Builder, error) {
	instruction := DefaultJSONInstruction
	if _, set := cfg["instruction"]; set {
		s, err := stringOption(cfg, "instruction")
		if err != nil {
			return nil, err
		}
		instruction = s
	}
	return NewJSON(instruction), nil
}

func (b *JSON) Name() string { return JSONName }

func (b *JSON) ProcessInput(in types.InferenceInput) types.InferenceInput {
	return appendInstruction(in, b.instruction)
}

func (b *JSON) ParseOutput(out *types.InferenceOutput) *types.InferenceOutput {
	if out == nil {
		return nil
	}
	res := out.Clone()
	if block, ok := b.fence.Extract(out.Text); ok {
		if v, ok := decodeFirst(block); ok {
			res.ParsedOutput = v
			return res
		}
	}
	if v, ok := decodeFirst(out.Text); ok {
		res.ParsedOutput = v
		return res
	}
	return withParseError(res, "no JSON value found")
}

// decodeFirst decodes the first complete object or array in text. Trailing
// prose after the value is ignored.
func decodeFirst(text string) (any, bool) {
	for i := strings.IndexAny(text, "{["); i >= 0; {
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			return v, true
		}
		// Brackets inside prose are common; try the next candidate.
		next := strings.IndexAny(text[i+1:], "{[")
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, false
}
