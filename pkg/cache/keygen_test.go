package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/blueberrycongee/unillm/pkg/types"
)

func TestKeyDeriver_Derive(t *testing.T) {
	d := NewKeyDeriver(WithPrefix("unillm"))
	in := types.NewInput("2+2?", "answer tersely")
	params := types.Params{types.ParamTemperature: 0.7, types.ParamMaxTokens: 16}

	t.Run("key format", func(t *testing.T) {
		key := d.Derive(in, params, "openai", "gpt-4o")
		assert.Contains(t, string(key), "unillm:")
		// SHA-256 produces 64 hex characters
		assert.Len(t, string(key), len("unillm:")+64)
		assert.Len(t, key.Digest(), 64)
	})

	t.Run("namespace", func(t *testing.T) {
		key := NewKeyDeriver(WithPrefix("unillm"), WithNamespace("team-a")).Derive(in, params, "openai", "gpt-4o")
		assert.Equal(t, "unillm:team-a:", string(key)[:len("unillm:team-a:")])
	})

	t.Run("empty turn list is cacheable", func(t *testing.T) {
		key := NewKeyDeriver().Derive(types.InferenceInput{}, nil, "mock", "m")
		assert.Len(t, string(key), 64)
	})

	t.Run("float precision collapses", func(t *testing.T) {
		a := d.Derive(in, types.Params{types.ParamTemperature: 0.7}, "openai", "gpt-4o")
		b := d.Derive(in, types.Params{types.ParamTemperature: 0.70}, "openai", "gpt-4o")
		c := d.Derive(in, types.Params{types.ParamTemperature: float32(0.7)}, "openai", "gpt-4o")
		e := d.Derive(in, types.Params{types.ParamTemperature: 0.7000000001}, "openai", "gpt-4o")
		assert.Equal(t, a, b)
		assert.Equal(t, a, c)
		assert.Equal(t, a, e)
	})

	t.Run("integral numbers collapse across types", func(t *testing.T) {
		a := d.Derive(in, types.Params{types.ParamMaxTokens: 16}, "openai", "gpt-4o")
		b := d.Derive(in, types.Params{types.ParamMaxTokens: float64(16)}, "openai", "gpt-4o")
		assert.Equal(t, a, b)
	})

	t.Run("string and number stay distinct", func(t *testing.T) {
		a := d.Derive(in, types.Params{"seed": 1}, "openai", "gpt-4o")
		b := d.Derive(in, types.Params{"seed": "1"}, "openai", "gpt-4o")
		assert.NotEqual(t, a, b)
	})

	t.Run("pointers hash by value", func(t *testing.T) {
		type stop struct {
			Sequences []string
			limit     int
		}
		n1, n2 := 16, 16
		a := d.Derive(in, types.Params{types.ParamMaxTokens: &n1}, "openai", "gpt-4o")
		b := d.Derive(in, types.Params{types.ParamMaxTokens: &n2}, "openai", "gpt-4o")
		c := d.Derive(in, types.Params{types.ParamMaxTokens: 16}, "openai", "gpt-4o")
		assert.Equal(t, a, b)
		assert.Equal(t, a, c)

		var nilPtr *int
		assert.Equal(t,
			d.Derive(in, types.Params{"seed": nilPtr}, "openai", "gpt-4o"),
			d.Derive(in, types.Params{"seed": nil}, "openai", "gpt-4o"))

		s1 := &stop{Sequences: []string{"\n"}, limit: 1}
		s2 := &stop{Sequences: []string{"\n"}, limit: 2}
		assert.Equal(t,
			d.Derive(in, types.Params{"stop": s1}, "openai", "gpt-4o"),
			d.Derive(in, types.Params{"stop": s2}, "openai", "gpt-4o"))
	})

	t.Run("unknown params are included", func(t *testing.T) {
		a := d.Derive(in, params, "openai", "gpt-4o")
		b := d.Derive(in, params.Merge(types.Params{"logit_bias_mode": "x"}), "openai", "gpt-4o")
		assert.NotEqual(t, a, b)
	})

	t.Run("volatile metadata is ignored", func(t *testing.T) {
		a := d.Derive(in, params, "openai", "gpt-4o")
		b := d.Derive(in.WithMetadata(types.MetaRequestID, "r-123").WithMetadata(types.MetaTimestamp, "now"),
			params.Merge(types.Params{"request_id": "abc", "trace_id": "t", "timestamp": 17}), "openai", "gpt-4o")
		assert.Equal(t, a, b)
	})

	t.Run("extra volatile params", func(t *testing.T) {
		dv := NewKeyDeriver(WithVolatileParams("Session"))
		a := dv.Derive(in, types.Params{"session": "s1"}, "openai", "gpt-4o")
		b := dv.Derive(in, types.Params{"session": "s2"}, "openai", "gpt-4o")
		assert.Equal(t, a, b)
	})

	t.Run("backend and model participate", func(t *testing.T) {
		a := d.Derive(in, params, "openai", "gpt-4o")
		assert.NotEqual(t, a, d.Derive(in, params, "deepseek", "gpt-4o"))
		assert.NotEqual(t, a, d.Derive(in, params, "openai", "gpt-4o-mini"))
		assert.Equal(t, a, d.Derive(in, params, " OpenAI ", "gpt-4o"))
	})

	t.Run("no cross-field collision", func(t *testing.T) {
		a := d.Derive(types.NewInput("bc", "a"), nil, "x", "y")
		b := d.Derive(types.NewInput("c", "ab"), nil, "x", "y")
		assert.NotEqual(t, a, b)

		c := d.Derive(types.InferenceInput{}, nil, "ab", "c")
		e := d.Derive(types.InferenceInput{}, nil, "a", "bc")
		assert.NotEqual(t, c, e)
	})

	t.Run("repeat index and prefill participate", func(t *testing.T) {
		a := d.Derive(in, params, "openai", "gpt-4o")
		assert.NotEqual(t, a, d.Derive(in.WithRepeatIndex(1), params, "openai", "gpt-4o"))
		assert.NotEqual(t, a, d.Derive(in.WithPrefill(""), params, "openai", "gpt-4o"))
	})

	t.Run("attachments participate", func(t *testing.T) {
		withBlob := in.Clone()
		withBlob.Attachments = []types.Attachment{{MIMEType: "image/png", Data: []byte{1}}}
		other := in.Clone()
		other.Attachments = []types.Attachment{{MIMEType: "image/png", Data: []byte{2}}}
		assert.NotEqual(t, d.Derive(withBlob, nil, "b", "m"), d.Derive(other, nil, "b", "m"))
	})

	t.Run("version stamp invalidates", func(t *testing.T) {
		v1 := NewKeyDeriver(WithVersionStamp("1")).Derive(in, params, "openai", "gpt-4o")
		v2 := NewKeyDeriver(WithVersionStamp("2")).Derive(in, params, "openai", "gpt-4o")
		none := NewKeyDeriver().Derive(in, params, "openai", "gpt-4o")
		assert.NotEqual(t, v1, v2)
		assert.NotEqual(t, v1, none)
	})

	t.Run("nested values", func(t *testing.T) {
		a := d.Derive(in, types.Params{"response_format": map[string]any{"type": "json_object", "strict": true}}, "b", "m")
		b := d.Derive(in, types.Params{"response_format": map[string]any{"strict": true, "type": "json_object"}}, "b", "m")
		c := d.Derive(in, types.Params{"stop": []string{"a", "b"}}, "b", "m")
		e := d.Derive(in, types.Params{"stop": []any{"a", "b"}}, "b", "m")
		f := d.Derive(in, types.Params{"stop": []string{"b", "a"}}, "b", "m")
		assert.Equal(t, a, b)
		assert.Equal(t, c, e)
		assert.NotEqual(t, c, f)
	})
}

// permute shuffles a copy of n indexes with draws from rt.
func permute(rt *rapid.T, n int, label string) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rapid.IntRange(0, i).Draw(rt, fmt.Sprintf("%s_%d", label, i))
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx
}

func drawParams(rt *rapid.T) ([]string, []any) {
	n := rapid.IntRange(0, 8).Draw(rt, "numParams")
	names := make([]string, 0, n)
	values := make([]any, 0, n)
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		name := rapid.StringMatching(`[a-z_]{1,10}`).Draw(rt, fmt.Sprintf("name_%d", i))
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
		switch rapid.IntRange(0, 3).Draw(rt, fmt.Sprintf("kind_%d", i)) {
		case 0:
			values = append(values, rapid.Float64Range(-10, 10).Draw(rt, fmt.Sprintf("float_%d", i)))
		case 1:
			values = append(values, rapid.IntRange(-1000, 1000).Draw(rt, fmt.Sprintf("int_%d", i)))
		case 2:
			values = append(values, rapid.StringMatching(`.{0,12}`).Draw(rt, fmt.Sprintf("str_%d", i)))
		default:
			values = append(values, rapid.IntRange(0, 1).Draw(rt, fmt.Sprintf("bool_%d", i)) == 1)
		}
	}
	return names, values
}

func drawTurns(rt *rapid.T, minTurns int) []types.Message {
	n := rapid.IntRange(minTurns, 6).Draw(rt, "numTurns")
	roles := []types.Role{types.RoleUser, types.RoleAssistant, types.RoleSystem}
	turns := make([]types.Message, n)
	for i := range turns {
		turns[i] = types.Message{
			Role:    roles[rapid.IntRange(0, 2).Draw(rt, fmt.Sprintf("role_%d", i))],
			Content: rapid.StringMatching(`.{0,20}`).Draw(rt, fmt.Sprintf("content_%d", i)),
		}
	}
	return turns
}

func TestKeyDeriver_Properties(t *testing.T) {
	d := NewKeyDeriver()

	t.Run("deterministic", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			names, values := drawParams(rt)
			params := types.Params{}
			for i, n := range names {
				params[n] = values[i]
			}
			in := types.NewConversation("sys", drawTurns(rt, 0)...)
			backend := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "backend")
			model := rapid.StringMatching(`[a-z0-9-]{1,12}`).Draw(rt, "model")

			assert.Equal(rt, d.Derive(in, params, backend, model), d.Derive(in, params, backend, model))
			assert.Equal(rt, d.Derive(in, params, backend, model), NewKeyDeriver().Derive(in.Clone(), params.Clone(), backend, model))
		})
	})

	t.Run("param construction order is irrelevant", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			names, values := drawParams(rt)
			order := permute(rt, len(names), "perm")

			forward := types.Params{}
			for i, n := range names {
				forward[n] = values[i]
			}
			shuffled := types.Params{}
			for _, i := range order {
				shuffled[names[i]] = values[i]
			}

			in := types.NewInput("q", "")
			assert.Equal(rt, d.Derive(in, forward, "b", "m"), d.Derive(in, shuffled, "b", "m"))
		})
	})

	t.Run("turn order is significant", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			turns := drawTurns(rt, 2)
			order := permute(rt, len(turns), "perm")

			permuted := make([]types.Message, len(turns))
			same := true
			for i, j := range order {
				permuted[i] = turns[j]
				if turns[j] != turns[i] {
					same = false
				}
			}
			if same {
				rt.Skip("permutation left the sequence unchanged")
			}

			a := d.Derive(types.NewConversation("", turns...), nil, "b", "m")
			b := d.Derive(types.NewConversation("", permuted...), nil, "b", "m")
			assert.NotEqual(rt, a, b)
		})
	})

	t.Run("metadata never affects the key", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			in := types.NewConversation("", drawTurns(rt, 0)...)
			tagged := in.WithMetadata(types.MetaRequestID, rapid.StringMatching(`[a-f0-9]{8}`).Draw(rt, "rid")).
				WithMetadata(types.MetaTraceID, rapid.StringMatching(`[a-f0-9]{16}`).Draw(rt, "tid"))
			assert.Equal(rt, d.Derive(in, nil, "b", "m"), d.Derive(tagged, nil, "b", "m"))
		})
	})
}
