package memory

// Tree is the root session memory document. Its top-level shape is fixed:
// customer, service, operations, conversation_meta, state_flags. Leaves are
// strings, numbers, booleans, or ordered sequences of leaves.
type Tree map[string]any

const (
	FieldCustomer         = "customer"
	FieldService          = "service"
	FieldOperations       = "operations"
	FieldConversationMeta = "conversation_meta"
	FieldStateFlags       = "state_flags"
)

// topLevelFields lists the fixed shape enforced by NewTree/Normalize.
var topLevelFields = []string{
	FieldCustomer, FieldService, FieldOperations, FieldConversationMeta, FieldStateFlags,
}

// NewTree returns an empty memory tree with all fixed top-level keys present
// as empty objects, so downstream path reads never need to special-case a
// missing top-level section.
func NewTree() Tree {
	t := make(Tree, len(topLevelFields))
	for _, f := range topLevelFields {
		t[f] = map[string]any{}
	}
	return t
}

// Normalize returns a copy of raw with any missing fixed top-level keys
// filled in as empty objects. Used when restoring a persisted document that
// predates a field, or when decoding an external tool-mapping result.
func Normalize(raw map[string]any) Tree {
	out := cloneMap(raw)
	for _, f := range topLevelFields {
		if _, ok := out[f]; !ok {
			out[f] = map[string]any{}
		}
	}
	return Tree(out)
}

// Merge deep-merges update into t and returns the resulting Tree.
func (t Tree) Merge(update map[string]any, appendPaths map[string]bool) Tree {
	return Tree(DeepMerge(t, update, appendPaths))
}

// Clone returns a defensive deep copy of t.
func (t Tree) Clone() Tree {
	return Tree(cloneMap(t))
}

// ReadPaths projects the named dotted paths out of t. Missing paths are
// simply absent from the result, never an error.
func (t Tree) ReadPaths(paths []string) (map[string]any, error) {
	out := make(map[string]any, len(paths))
	for _, raw := range paths {
		p, err := ParsePath(raw)
		if err != nil {
			return nil, err
		}
		if v, ok := Get(map[string]any(t), p); ok {
			out[raw] = Clone(v)
		}
	}
	return out, nil
}
