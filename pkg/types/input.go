// Package types defines the request and response shapes shared by the cache,
// the dispatcher and the backend adapters.
package types //nolint:revive // package name is intentional

import (
	"fmt"
	"maps"
	"slices"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Attachment is an opaque multimodal blob passed through to the backend.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Metadata keys that are commonly attached to inputs. None of them take part
// in cache key derivation.
const (
	MetaRequestID = "request_id"
	MetaTraceID   = "trace_id"
	MetaTimestamp = "timestamp"
)

// InferenceInput is one logical generation request.
//
// Values are treated as immutable: the With* helpers return modified copies
// and never touch the receiver's slices or maps.
type InferenceInput struct {
	SystemPrompt string       `json:"system_prompt,omitempty"`
	Messages     []Message    `json:"messages"`
	Attachments  []Attachment `json:"attachments,omitempty"`

	// Prefilled marks the last assistant turn as a prefix the model continues.
	Prefilled bool `json:"prefilled,omitempty"`

	// RepeatIndex separates intentional repeated samples of the same input.
	RepeatIndex int `json:"repeat_index,omitempty"`

	// Metadata holds transient values such as request ids and timestamps.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewInput builds a single-turn input from a user prompt.
func NewInput(prompt, systemPrompt string) InferenceInput {
	return InferenceInput{
		SystemPrompt: systemPrompt,
		Messages:     []Message{{Role: RoleUser, Content: prompt}},
	}
}

// NewConversation builds an input from an ordered list of turns.
func NewConversation(systemPrompt string, messages ...Message) InferenceInput {
	return InferenceInput{
		SystemPrompt: systemPrompt,
		Messages:     slices.Clone(messages),
	}
}

// Clone returns a deep copy of the input.
func (in InferenceInput) Clone() InferenceInput {
	out := in
	out.Messages = slices.Clone(in.Messages)
	if in.Attachments != nil {
		out.Attachments = make([]Attachment, len(in.Attachments))
		for i, a := range in.Attachments {
			out.Attachments[i] = Attachment{MIMEType: a.MIMEType, Data: slices.Clone(a.Data)}
		}
	}
	out.Metadata = maps.Clone(in.Metadata)
	return out
}

// WithSystemPrompt returns a copy with the system prompt replaced.
func (in InferenceInput) WithSystemPrompt(prompt string) InferenceInput {
	out := in.Clone()
	out.SystemPrompt = prompt
	return out
}

// WithPrefill returns a copy that ends with an assistant prefix the model
// must continue.
func (in InferenceInput) WithPrefill(prefix string) InferenceInput {
	out := in.Clone()
	out.Messages = append(out.Messages, Message{Role: RoleAssistant, Content: prefix})
	out.Prefilled = true
	return out
}

// WithRepeatIndex returns a copy tagged with the given repeat index.
func (in InferenceInput) WithRepeatIndex(i int) InferenceInput {
	out := in.Clone()
	out.RepeatIndex = i
	return out
}

// WithMetadata returns a copy with one metadata value set.
func (in InferenceInput) WithMetadata(key, value string) InferenceInput {
	out := in.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]string, 1)
	}
	out.Metadata[key] = value
	return out
}

// Validate checks roles and the prefill shape.
func (in InferenceInput) Validate() error {
	for i, m := range in.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	if in.Prefilled {
		if len(in.Messages) == 0 || in.Messages[len(in.Messages)-1].Role != RoleAssistant {
			return fmt.Errorf("prefilled input must end with an assistant turn")
		}
	}
	if in.RepeatIndex < 0 {
		return fmt.Errorf("repeat index must be non-negative, got %d", in.RepeatIndex)
	}
	return nil
}

// LastUserContent returns the content of the last user turn, if any.
func (in InferenceInput) LastUserContent() string {
	for i := len(in.Messages) - 1; i >= 0; i-- {
		if in.Messages[i].Role == RoleUser {
			return in.Messages[i].Content
		}
	}
	return ""
}
