package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// =============================================================================
// TREE - In-memory JSON tree with Realtime Database write semantics
// =============================================================================

// Tree holds a decoded JSON object and applies get/set with the hosted
// database's rules: null deletes, empty objects are not stored, and
// intermediate objects are created on demand.
//
// Tree is not safe for concurrent use.
type Tree struct {
	root map[string]any
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{root: map[string]any{}}
}

// TreeFrom wraps an existing decoded object. The map is owned by the tree
// afterwards.
func TreeFrom(root map[string]any) *Tree {
	if root == nil {
		root = map[string]any{}
	}
	return &Tree{root: root}
}

// Root returns the underlying object.
func (t *Tree) Root() map[string]any {
	return t.root
}

// Get returns the value at segs, or nil.
func (t *Tree) Get(segs []string) any {
	var node any = t.root
	for _, s := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[s]
		if !ok {
			return nil
		}
	}
	if m, ok := node.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return node
}

// Set replaces the value at segs. v must already be normalized.
func (t *Tree) Set(segs []string, v any) {
	if len(segs) == 0 {
		m, _ := v.(map[string]any)
		if m == nil {
			m = map[string]any{}
		}
		t.root = m
		return
	}
	if v == nil {
		t.delete(segs)
		return
	}
	node := t.root
	for _, s := range segs[:len(segs)-1] {
		child, ok := node[s].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[s] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = v
}

func (t *Tree) delete(segs []string) {
	parents := make([]map[string]any, 0, len(segs))
	node := t.root
	for _, s := range segs[:len(segs)-1] {
		parents = append(parents, node)
		child, ok := node[s].(map[string]any)
		if !ok {
			return
		}
		node = child
	}
	delete(node, segs[len(segs)-1])

	// Drop parents left empty, bottom-up.
	for i := len(parents) - 1; i >= 0; i-- {
		child := parents[i][segs[i]].(map[string]any)
		if len(child) > 0 {
			return
		}
		delete(parents[i], segs[i])
	}
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// Normalize converts an arbitrary Go value into the tree representation
// (map[string]any, []any, json.Number, string, bool) and prunes nulls and
// empty objects, which the hosted database never stores.
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		if IsNull(v) {
			return nil, nil
		}
		raw = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		raw = b
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(out), nil
}

func prune(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			if p := prune(child); p == nil {
				delete(x, k)
			} else {
				x[k] = p
			}
		}
		if len(x) == 0 {
			return nil
		}
		return x
	case []any:
		for i, child := range x {
			x[i] = prune(child)
		}
		return x
	default:
		return v
	}
}

// Encode marshals a tree value, returning nil for an absent value.
func Encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return b, nil
}

// Clone deep-copies a tree value so callers cannot mutate shared state.
func Clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, child := range x {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, child := range x {
			out[i] = Clone(child)
		}
		return out
	default:
		return v
	}
}

// Patch merges fields into the object at segs. Keys may themselves be
// multi-segment paths. All values are normalized before anything changes.
func (t *Tree) Patch(segs []string, fields map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(fields))
	for k, v := range fields {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		normalized[k] = n
	}
	for k, v := range normalized {
		path := append(append([]string{}, segs...), Split(k)...)
		t.Set(path, v)
	}
	return normalized, nil
}
