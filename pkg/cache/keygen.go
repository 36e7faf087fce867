package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/blueberrycongee/unillm/pkg/types"
)

// Key is a content-derived cache address: [prefix:][namespace:]sha256hex.
type Key string

// String returns the key text.
func (k Key) String() string { return string(k) }

// Digest returns the hex digest without prefix or namespace.
func (k Key) Digest() string {
	s := string(k)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// DefaultVolatileParams are parameter names that never affect the output and
// are left out of keys.
var DefaultVolatileParams = []string{"request_id", "trace_id", "timestamp", "user"}

// KeyDeriver turns a logical request into a stable Key.
//
// The hashed material is a sequence of length-prefixed records
// (tag:len:bytes), so no field value can imitate a record boundary.
type KeyDeriver struct {
	prefix    string
	namespace string
	version   string
	volatile  map[string]struct{}
}

// KeyOption configures a KeyDeriver.
type KeyOption func(*KeyDeriver)

// WithPrefix prepends prefix to every key.
func WithPrefix(prefix string) KeyOption {
	return func(d *KeyDeriver) { d.prefix = prefix }
}

// WithNamespace isolates keys of one tenant or project.
func WithNamespace(ns string) KeyOption {
	return func(d *KeyDeriver) { d.namespace = ns }
}

// WithVersionStamp mixes v into every hash so that bumping it invalidates
// all previously written entries.
func WithVersionStamp(v string) KeyOption {
	return func(d *KeyDeriver) { d.version = v }
}

// WithVolatileParams excludes additional parameter names from keys.
func WithVolatileParams(names ...string) KeyOption {
	return func(d *KeyDeriver) {
		for _, n := range names {
			d.volatile[normalizeParamName(n)] = struct{}{}
		}
	}
}

// NewKeyDeriver creates a deriver with the default volatile parameter set.
func NewKeyDeriver(opts ...KeyOption) *KeyDeriver {
	d := &KeyDeriver{volatile: make(map[string]struct{}, len(DefaultVolatileParams))}
	for _, n := range DefaultVolatileParams {
		d.volatile[n] = struct{}{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Version returns the configured version stamp.
func (d *KeyDeriver) Version() string { return d.version }

// Derive computes the key for one request. It is a pure function of its
// arguments and the deriver's options.
func (d *KeyDeriver) Derive(input types.InferenceInput, params types.Params, backendID, modelID string) Key {
	h := sha256.New()
	w := recordWriter{h: h}

	if d.version != "" {
		w.record("version", d.version)
	}
	w.record("backend", strings.ToLower(strings.TrimSpace(backendID)))
	w.record("model", strings.TrimSpace(modelID))

	names := make([]string, 0, len(params))
	for name := range params {
		if _, skip := d.volatile[normalizeParamName(name)]; skip {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ni, nj := normalizeParamName(names[i]), normalizeParamName(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
	w.record("params", strconv.Itoa(len(names)))
	for _, name := range names {
		w.record("param", normalizeParamName(name))
		w.record("value", canonicalValue(params[name]))
	}

	w.record("system", input.SystemPrompt)
	w.record("turns", strconv.Itoa(len(input.Messages)))
	for _, m := range input.Messages {
		w.record("role", strings.ToLower(strings.TrimSpace(string(m.Role))))
		w.record("content", m.Content)
	}
	w.record("attachments", strconv.Itoa(len(input.Attachments)))
	for _, a := range input.Attachments {
		sum := sha256.Sum256(a.Data)
		w.record("mime", strings.ToLower(strings.TrimSpace(a.MIMEType)))
		w.record("blob", hex.EncodeToString(sum[:]))
	}
	w.record("prefilled", strconv.FormatBool(input.Prefilled))
	w.record("repeat", strconv.Itoa(input.RepeatIndex))

	digest := hex.EncodeToString(h.Sum(nil))

	var key strings.Builder
	if d.prefix != "" {
		key.WriteString(d.prefix)
		key.WriteString(":")
	}
	if d.namespace != "" {
		key.WriteString(d.namespace)
		key.WriteString(":")
	}
	key.WriteString(digest)
	return Key(key.String())
}

type recordWriter struct {
	h hash.Hash
}

func (w recordWriter) record(tag, value string) {
	// hash.Hash writes never fail.
	_, _ = fmt.Fprintf(w.h, "%s:%d:", tag, len(value))
	_, _ = w.h.Write([]byte(value))
}

func normalizeParamName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// floatPrecision is the number of decimal places kept for float parameters.
const floatPrecision = 1e6

func canonicalFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	if math.Abs(v) < 1e15 {
		v = math.Round(v*floatPrecision) / floatPrecision
	}
	if v == 0 {
		v = 0 // drop the sign of negative zero
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// canonicalValue renders a parameter value with a type tag so that, for
// example, the string "1" and the number 1 stay distinct while 0.7 and 0.70
// collapse to the same text.
func canonicalValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return "b:" + strconv.FormatBool(x)
	case string:
		return "s:" + x
	case float64:
		return "n:" + canonicalFloat(x)
	case float32:
		return "n:" + canonicalFloat(float64(x))
	case int:
		return "n:" + strconv.FormatInt(int64(x), 10)
	case int8:
		return "n:" + strconv.FormatInt(int64(x), 10)
	case int16:
		return "n:" + strconv.FormatInt(int64(x), 10)
	case int32:
		return "n:" + strconv.FormatInt(int64(x), 10)
	case int64:
		return "n:" + strconv.FormatInt(x, 10)
	case uint:
		return "n:" + strconv.FormatUint(uint64(x), 10)
	case uint32:
		return "n:" + strconv.FormatUint(uint64(x), 10)
	case uint64:
		return "n:" + strconv.FormatUint(x, 10)
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return canonicalList(items)
	case []any:
		return canonicalList(x)
	case map[string]any:
		return canonicalMap(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "null"
		}
		return canonicalValue(rv.Elem().Interface())
	case reflect.Struct:
		m := make(map[string]any, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			if f := rv.Type().Field(i); f.IsExported() {
				m[f.Name] = rv.Field(i).Interface()
			}
		}
		return canonicalMap(m)
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return canonicalList(items)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			m := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				m[iter.Key().String()] = iter.Value().Interface()
			}
			return canonicalMap(m)
		}
	}
	return fmt.Sprintf("x:%T:%v", v, v)
}

func canonicalList(items []any) string {
	var sb strings.Builder
	sb.WriteString("l:")
	sb.WriteString(strconv.Itoa(len(items)))
	for _, item := range items {
		c := canonicalValue(item)
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(len(c)))
		sb.WriteString(":")
		sb.WriteString(c)
	}
	return sb.String()
}

func canonicalMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("m:")
	sb.WriteString(strconv.Itoa(len(keys)))
	for _, k := range keys {
		c := canonicalValue(m[k])
		fmt.Fprintf(&sb, ":%d:%s:%d:%s", len(k), k, len(c), c)
	}
	return sb.String()
}
