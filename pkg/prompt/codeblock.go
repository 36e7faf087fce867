package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blueberrycongee/unillm/pkg/types"
)

// CodeBlockName is the registry name of the code block builder.
const CodeBlockName = "code_block"

// CodeBlock extracts the last fenced code block from the response text into
// ParsedOutput. When a language is set only blocks tagged with it match.
type CodeBlock struct {
	language    string
	instruction string
	pattern     *regexp.Regexp
}

// NewCodeBlock creates a code block builder. instruction, when non-empty, is
// appended to the system prompt of every input.
func NewCodeBlock(language, instruction string) *CodeBlock {
	pattern := "(?s)```(?:\\w+)?\\n(.*?)\\n```"
	if language != "" {
		pattern = "(?s)```" + regexp.QuoteMeta(language) + "\\n(.*?)\\n```"
	}
	return &CodeBlock{
		language:    language,
		instruction: instruction,
		pattern:     regexp.MustCompile(pattern),
	}
}

func newCodeBlockFromConfig(cfg map[string]any) (Builder, error) {
	language, err := stringOption(cfg, "language")
	if err != nil {
		return nil, err
	}
	instruction, err := stringOption(cfg, "instruction")
	if err != nil {
		return nil, err
	}
	return NewCodeBlock(language, instruction), nil
}

func (b *CodeBlock) Name() string { return CodeBlockName }

func (b *CodeBlock) ProcessInput(in types.InferenceInput) types.InferenceInput {
	return appendInstruction(in, b.instruction)
}

func (b *CodeBlock) ParseOutput(out *types.InferenceOutput) *types.InferenceOutput {
	if out == nil {
		return nil
	}
	res := out.Clone()
	code, ok := b.Extract(out.Text)
	if !ok {
		return withParseError(res, "no code block found")
	}
	res.ParsedOutput = code
	return res
}

// Extract returns the trimmed body of the last matching code block.
func (b *CodeBlock) Extract(text string) (string, bool) {
	matches := b.pattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	return strings.TrimSpace(matches[len(matches)-1][1]), true
}

func stringOption(cfg map[string]any, key string) (string, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %q must be a string, got %T", key, v)
	}
	return s, nil
}
