package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferenceInput_CopyOnWrite(t *testing.T) {
	base := NewConversation("be brief",
		Message{Role: RoleUser, Content: "hi"},
		Message{Role: RoleAssistant, Content: "hello"},
	).WithMetadata(MetaRequestID, "r1")

	t.Run("with metadata does not mutate receiver", func(t *testing.T) {
		next := base.WithMetadata(MetaRequestID, "r2")
		assert.Equal(t, "r1", base.Metadata[MetaRequestID])
		assert.Equal(t, "r2", next.Metadata[MetaRequestID])
	})

	t.Run("with prefill appends an assistant turn", func(t *testing.T) {
		next := base.WithPrefill("```python")
		assert.Len(t, base.Messages, 2)
		require.Len(t, next.Messages, 3)
		assert.True(t, next.Prefilled)
		assert.Equal(t, RoleAssistant, next.Messages[2].Role)
	})

	t.Run("clone copies attachment bytes", func(t *testing.T) {
		in := base
		in.Attachments = []Attachment{{MIMEType: "image/png", Data: []byte{1, 2, 3}}}
		cp := in.Clone()
		cp.Attachments[0].Data[0] = 9
		assert.Equal(t, byte(1), in.Attachments[0].Data[0])
	})
}

func TestInferenceInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   InferenceInput
		wantErr bool
	}{
		{"empty turns", InferenceInput{}, false},
		{"single prompt", NewInput("2+2?", ""), false},
		{"bad role", NewConversation("", Message{Role: "tool", Content: "x"}), true},
		{"prefill without assistant", InferenceInput{Messages: []Message{{Role: RoleUser}}, Prefilled: true}, true},
		{"prefill ok", NewInput("q", "").WithPrefill("a"), false},
		{"negative repeat", InferenceInput{RepeatIndex: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParams_Accessors(t *testing.T) {
	p := Params{
		ParamTemperature: 0.7,
		ParamMaxTokens:   float64(256),
		ParamStop:        []any{"\n\n", "END"},
		"seed":           3,
	}

	temp, ok := p.Temperature()
	require.True(t, ok)
	assert.InDelta(t, 0.7, temp, 1e-9)

	maxTokens, ok := p.MaxTokens()
	require.True(t, ok)
	assert.Equal(t, 256, maxTokens)

	assert.Equal(t, []string{"\n\n", "END"}, p.Stop())

	_, ok = p.TopP()
	assert.False(t, ok)

	merged := p.Merge(Params{ParamTemperature: 0.1})
	temp, _ = merged.Temperature()
	assert.InDelta(t, 0.1, temp, 1e-9)
	temp, _ = p.Temperature()
	assert.InDelta(t, 0.7, temp, 1e-9)
}

func TestBatchResult_Helpers(t *testing.T) {
	boom := errors.New("boom")
	res := BatchResult{
		{Index: 0, Output: &InferenceOutput{Text: "a"}},
		{Index: 1, Err: boom},
		{Index: 2, Output: &InferenceOutput{Text: "c"}},
	}

	assert.Equal(t, 2, res.Succeeded())
	assert.Nil(t, res.Outputs()[1])
	assert.Equal(t, []error{nil, boom, nil}, res.Errors())

	batch := NewBatch(NewInput("a", ""), NewInput("b", ""))
	assert.Equal(t, 1, batch[1].Index)
}
