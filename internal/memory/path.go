// Package memory implements session memory: a nested mapping with a fixed
// top-level shape (customer, service, operations, conversation_meta,
// state_flags), a deep-merge update algorithm, and a small path mini-AST
// shared by tool mappings, branching conditions, and path reads.
package memory

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a dotted/bracketed path: either a field name or an
// array index.
type Segment struct {
	Field string
	Index int
	IsIdx bool
}

// Path is a parsed dotted path with optional [i] array indexing, e.g.
// "customer.phone" or "items[0].name".
type Path []Segment

// ParsePath parses a minimal path language: dotted field names with optional
// bracketed integer indices, e.g. "service.tasks[2].title".
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("memory: empty path")
	}
	var path Path
	for _, field := range strings.Split(s, ".") {
		if field == "" {
			return nil, fmt.Errorf("memory: empty path segment in %q", s)
		}
		name, idxs, err := splitIndices(field)
		if err != nil {
			return nil, fmt.Errorf("memory: path %q: %w", s, err)
		}
		if name == "" {
			return nil, fmt.Errorf("memory: path %q: missing field name before index", s)
		}
		path = append(path, Segment{Field: name})
		for _, idx := range idxs {
			path = append(path, Segment{Index: idx, IsIdx: true})
		}
	}
	return path, nil
}

// MustParsePath parses a path and panics on error. Intended for static paths
// defined in config validation or tests, never for user-controlled input.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIdx {
			fmt.Fprintf(&b, "[%d]", seg.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Field)
	}
	return b.String()
}

// splitIndices parses "name[0][1]" into ("name", []int{0, 1}).
func splitIndices(field string) (string, []int, error) {
	open := strings.IndexByte(field, '[')
	if open < 0 {
		return field, nil, nil
	}
	name := field[:open]
	rest := field[open:]
	var idxs []int
	for len(rest) > 0 {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("malformed index in %q", field)
		}
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			return "", nil, fmt.Errorf("unterminated index in %q", field)
		}
		n, err := strconv.Atoi(rest[1:close])
		if err != nil {
			return "", nil, fmt.Errorf("non-numeric index in %q: %w", field, err)
		}
		idxs = append(idxs, n)
		rest = rest[close+1:]
	}
	return name, idxs, nil
}

// Get resolves path against root, returning the leaf value and whether it
// was found. Missing intermediate keys or out-of-range indices yield
// (nil, false), never an error: a missing path means "no match", so mapping
// application and condition evaluation treat it as absence rather than
// failure.
func Get(root any, path Path) (any, bool) {
	cur := root
	for _, seg := range path {
		if seg.IsIdx {
			arr, ok := cur.([]any)
			if !ok || seg.Index < 0 || seg.Index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.Index]
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := obj[seg.Field]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Set writes value at path within root (a map[string]any), creating
// intermediate maps as needed. Intermediate array segments require the array
// to already exist and be long enough; Set does not grow arrays, since
// append semantics are handled separately by deep-merge (see merge.go).
func Set(root map[string]any, path Path, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("memory: cannot set root with empty path")
	}
	cur := root
	skipIdx := false
	for i, seg := range path {
		if skipIdx {
			// The index segment was consumed when stepping into the element.
			skipIdx = false
			continue
		}
		last := i == len(path)-1
		if seg.IsIdx {
			return fmt.Errorf("memory: Set does not support indexing into %q directly; use deep-merge append markers", path)
		}
		if last {
			cur[seg.Field] = value
			return nil
		}
		next := path[i+1]
		existing, ok := cur[seg.Field]
		if next.IsIdx {
			if i+1 == len(path)-1 {
				return fmt.Errorf("memory: Set does not support indexing into %q directly; use deep-merge append markers", path)
			}
			arr, ok2 := existing.([]any)
			if !ok || !ok2 {
				return fmt.Errorf("memory: path %q expects an array at %q", path, seg.Field)
			}
			if next.Index < 0 || next.Index >= len(arr) {
				return fmt.Errorf("memory: path %q index %d out of range", path, next.Index)
			}
			sub, ok3 := arr[next.Index].(map[string]any)
			if !ok3 {
				return fmt.Errorf("memory: path %q element %d is not an object", path, next.Index)
			}
			cur = sub
			skipIdx = true
			continue
		}
		m, ok2 := existing.(map[string]any)
		if !ok || !ok2 {
			m = make(map[string]any)
			cur[seg.Field] = m
		}
		cur = m
	}
	return nil
}

// Clone deep-copies a memory tree built from map[string]any, []any, and
// scalar leaves so that snapshots returned to callers are defensive copies.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}
