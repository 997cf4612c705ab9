// Package record defines the serialized representation of container state
// and the deep-equality logic used to suppress redundant writes.
package record

import (
	"encoding/json"
	"reflect"
)

// --------------------------------------------------------------------------
// Record Type
// --------------------------------------------------------------------------

// Record is the serialized snapshot of a state container: a flat-to-nested
// mapping from field name to a JSON-compatible value. This is the shape
// that is cached in memory and (in its marshalled form) written to the
// storage backend.
type Record map[string]any

// Clone returns a deep copy of the record. Nested maps and []any slices
// are copied recursively; all other values are copied by assignment
// (records are expected to hold JSON-compatible values only).
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Record:
		return val.Clone()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// --------------------------------------------------------------------------
// Serialization
// --------------------------------------------------------------------------

// Marshal encodes the record into its durable byte representation (JSON).
func Marshal(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes the durable byte representation back into a Record.
func Unmarshal(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// --------------------------------------------------------------------------
// Deep Equality
// --------------------------------------------------------------------------

// Equal reports whether two records are structurally equal. The comparison
// is order-insensitive for maps, recurses into nested maps and slices, and
// coerces numeric types before comparing. Numeric coercion matters because
// a record populated by a container's encoder typically holds Go integers
// while the same record read back from the backend holds float64 values
// after the JSON round trip.
func Equal(a, b Record) bool {
	if a == nil || b == nil {
		return len(a) == 0 && len(b) == 0
	}
	return equalMaps(map[string]any(a), map[string]any(b))
}

func equalMaps(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !equalValues(av, bv) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	// numbers compare by value, regardless of the concrete Go type
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		return ok && equalMaps(am, bm)
	}

	if as, ok := asSlice(a); ok {
		bs, ok := asSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !equalValues(as[i], bs[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Record:
		return map[string]any(m), true
	case map[string]any:
		return m, true
	}

	// maps with string keys but a narrower value type
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	}
	return nil, false
}

func asSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
