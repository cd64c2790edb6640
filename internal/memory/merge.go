package memory

import "strings"

// AppendValues wraps a slice of values to request append-not-replace
// semantics for an ordered sequence leaf, regardless of the path's
// configured default.
type AppendValues struct {
	Values []any
}

// unsetSentinel is treated as a no-op leaf value alongside empty string and
// null, so a model emitting the literal "unset" never clobbers a known
// value.
const unsetSentinel = "unset"

// DeepMerge recursively merges update into a copy of dst and returns the
// result; dst and update are never mutated in place.
//
// Rules:
//   - objects merge recursively; keys absent from update retain dst's value
//   - a leaf assigned an empty/null/"unset" value in update is a no-op
//   - ordered sequences (arrays) are replaced by default; a path listed in
//     appendPaths, or a value wrapped in AppendValues, is appended instead
//     and never replaces the existing sequence
func DeepMerge(dst, update map[string]any, appendPaths map[string]bool) map[string]any {
	out := cloneMap(dst)
	mergeInto(out, update, "", appendPaths)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

func mergeInto(dst map[string]any, update map[string]any, prefix string, appendPaths map[string]bool) {
	for key, uv := range update {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		existing, present := dst[key]
		merged := mergeValue(existing, uv, path, appendPaths)
		if !present && merged == nil {
			// A no-op update on an absent key leaves the key absent.
			continue
		}
		dst[key] = merged
	}
}

// mergeValue merges a single field's incoming value uv against the existing
// dv, returning the value that should be stored. When the update is a no-op,
// mergeValue returns dv itself.
func mergeValue(dv, uv any, path string, appendPaths map[string]bool) any {
	switch v := uv.(type) {
	case AppendValues:
		existing, _ := dv.([]any)
		if len(v.Values) == 0 {
			return dv
		}
		return append(append([]any{}, existing...), cloneSlice(v.Values)...)
	case map[string]any:
		if len(v) == 0 {
			return dv
		}
		base, ok := dv.(map[string]any)
		if !ok || base == nil {
			base = make(map[string]any)
		} else {
			base = cloneMap(base)
		}
		mergeInto(base, v, path, appendPaths)
		return base
	case []any:
		if len(v) == 0 {
			// Empty array is a no-clobber no-op.
			return dv
		}
		if appendPaths[path] {
			existing, _ := dv.([]any)
			return append(append([]any{}, existing...), cloneSlice(v)...)
		}
		return cloneSlice(v)
	case nil:
		return dv
	case string:
		if v == "" || strings.EqualFold(v, unsetSentinel) {
			return dv
		}
		return v
	default:
		// Numbers, bools, and any other scalar: always "set". No-clobber
		// applies to empty/null/"unset" only, not to zero-valued numbers
		// or false booleans.
		return uv
	}
}

func cloneSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = Clone(v)
	}
	return out
}

// IsSet reports whether v is a "set" leaf value: a non-empty leaf. Used by
// the transition engine's is_set/is_empty conditions and by deep-merge.
func IsSet(v any, ok bool) bool {
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != "" && !strings.EqualFold(t, unsetSentinel)
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
