package types //nolint:revive // package name is intentional

import "maps"

// Usage contains token usage reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// InferenceOutput is the result of one successful generation.
type InferenceOutput struct {
	Text         string            `json:"text"`
	ParsedOutput any               `json:"parsed_output,omitempty"`
	FinishReason string            `json:"finish_reason,omitempty"`
	Usage        Usage             `json:"usage"`
	Backend      string            `json:"backend,omitempty"`
	Model        string            `json:"model,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// Cached is set when the output was served from a cache store.
	Cached bool `json:"-"`
}

// Clone returns a copy safe to hand to another caller.
func (o *InferenceOutput) Clone() *InferenceOutput {
	if o == nil {
		return nil
	}
	out := *o
	out.Metadata = maps.Clone(o.Metadata)
	return &out
}
