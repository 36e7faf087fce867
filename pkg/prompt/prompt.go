// Package prompt provides builders that rewrite inputs before they are sent
// and parse raw model text into structured values afterwards.
package prompt

import (
	"github.com/blueberrycongee/unillm/pkg/types"
)

// Builder transforms inputs before dispatch and outputs after it.
//
// ProcessInput runs before the cache key is derived, so the processed input
// is what gets cached. Both methods must return copies and leave their
// argument untouched.
type Builder interface {
	Name() string
	ProcessInput(in types.InferenceInput) types.InferenceInput
	ParseOutput(out *types.InferenceOutput) *types.InferenceOutput
}

// ProcessInputs applies b to every input.
func ProcessInputs(b Builder, inputs []types.InferenceInput) []types.InferenceInput {
	out := make([]types.InferenceInput, len(inputs))
	for i, in := range inputs {
		out[i] = b.ProcessInput(in)
	}
	return out
}

// MetadataParseError is set on an output whose text could not be parsed.
const MetadataParseError = "parse_error"

func withParseError(out *types.InferenceOutput, msg string) *types.InferenceOutput {
	if out.Metadata == nil {
		out.Metadata = make(map[string]string, 1)
	}
	out.Metadata[MetadataParseError] = msg
	return out
}

// appendInstruction adds text to the system prompt on a copy of in.
func appendInstruction(in types.InferenceInput, instruction string) types.InferenceInput {
	if instruction == "" {
		return in
	}
	if in.SystemPrompt == "" {
		return in.WithSystemPrompt(instruction)
	}
	return in.WithSystemPrompt(in.SystemPrompt + "\n\n" + instruction)
}
