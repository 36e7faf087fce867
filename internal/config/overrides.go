package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ApplyOverrides sets fields addressed by dotted paths, e.g.
// "retry.max_attempts=5" or "params.temperature=0.2". A colon may be used
// instead of a dot and dashes in keys are read as underscores. Values are
// coerced the same way on every path: true/false, null/none, integers,
// floats, and comma separated or bracketed lists; anything else stays a
// string. The result is decoded back into c, so type errors surface here.
func (c *Config) ApplyOverrides(overrides ...string) error {
	if len(overrides) == 0 {
		return nil
	}

	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	for _, o := range overrides {
		key, value, ok := strings.Cut(o, "=")
		if !ok {
			return fmt.Errorf("override %q: expected key=value", o)
		}
		path := splitPath(key)
		if len(path) == 0 {
			return fmt.Errorf("override %q: empty key", o)
		}
		if _, known := tree[path[0]]; !known && path[0] != "params" && path[0] != "prompt" {
			return fmt.Errorf("override %q: unknown section %q", o, path[0])
		}
		if err := setPath(tree, path, CoerceScalar(value)); err != nil {
			return fmt.Errorf("override %q: %w", o, err)
		}
	}

	raw, err = yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}
	next := DefaultConfig()
	if err := yaml.Unmarshal(raw, next); err != nil {
		return fmt.Errorf("apply overrides: %w", err)
	}
	next.Logging.Output = c.Logging.Output
	*c = *next
	return nil
}

func splitPath(key string) []string {
	key = strings.TrimSpace(strings.TrimLeft(key, "-"))
	fields := strings.FieldsFunc(key, func(r rune) bool { return r == '.' || r == ':' })
	for i, f := range fields {
		fields[i] = strings.ReplaceAll(f, "-", "_")
	}
	return fields
}

func setPath(tree map[string]any, path []string, value any) error {
	node := tree
	for _, p := range path[:len(path)-1] {
		switch next := node[p].(type) {
		case map[string]any:
			node = next
		case nil:
			child := map[string]any{}
			node[p] = child
			node = child
		default:
			return fmt.Errorf("%q is not a section", p)
		}
	}
	node[path[len(path)-1]] = value
	return nil
}

// CoerceScalar converts a command line value to the type it spells.
func CoerceScalar(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return splitList(s[1 : len(s)-1])
	}
	if strings.Contains(s, ",") {
		return splitList(s)
	}
	return s
}

func splitList(s string) []any {
	out := []any{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
