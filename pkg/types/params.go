package types //nolint:revive // package name is intentional

import "maps"

// Well-known generation parameters.
const (
	ParamTemperature = "temperature"
	ParamMaxTokens   = "max_tokens"
	ParamTopP        = "top_p"
	ParamStop        = "stop"
)

// Params is an unordered set of generation controls. Values are scalars
// (numbers, strings, bools) or lists of strings.
type Params map[string]any

// Clone returns a shallow copy; scalar values need no deeper copy.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// Merge returns a new Params with other applied over p.
func (p Params) Merge(other Params) Params {
	out := p.Clone()
	maps.Copy(out, other)
	return out
}

// Float returns a numeric parameter as float64.
func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

// Int returns an integral parameter. Floats with no fractional part are
// accepted because JSON and YAML decoders produce them.
func (p Params) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// Strings returns a string or list-of-strings parameter as a slice.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Temperature returns the sampling temperature if set.
func (p Params) Temperature() (float64, bool) { return p.Float(ParamTemperature) }

// TopP returns nucleus sampling mass if set.
func (p Params) TopP() (float64, bool) { return p.Float(ParamTopP) }

// MaxTokens returns the output length limit if set.
func (p Params) MaxTokens() (int, bool) { return p.Int(ParamMaxTokens) }

// Stop returns the stop sequences if set.
func (p Params) Stop() []string { return p.Strings(ParamStop) }
