// Package tree implements the JSON tree the feed stores: nested
// map[string]any nodes whose leaves are JSON scalars. Empty objects never
// persist; writing nil or an empty object deletes the node and prunes
// emptied parents.
package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Node is an object node of the tree.
type Node = map[string]any

// Normalize converts an arbitrary Go value into tree form (maps, slices,
// json.Number, string, bool). Empty objects become nil.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var raw []byte
	switch t := v.(type) {
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		var err error
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
	}
	return Decode(raw)
}

// Decode parses raw JSON into tree form.
func Decode(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(out), nil
}

// prune drops empty objects so that "no children" and "absent" coincide.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		if child = prune(child); child == nil {
			delete(m, k)
		} else {
			m[k] = child
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Get returns the value stored at segs below root.
func Get(root Node, segs []string) (any, bool) {
	var cur any = root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil, false
	}
	return cur, cur != nil
}

// Set stores an already normalized value at segs, creating intermediate
// objects. A nil value deletes the node. An empty segs replaces the whole
// root and is rejected.
func Set(root Node, segs []string, v any) error {
	if len(segs) == 0 {
		return fmt.Errorf("cannot replace the tree root")
	}
	if v == nil {
		del(root, segs)
		return nil
	}

	cur := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = Node{}
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
	return nil
}

// del removes the node at segs and prunes parents left empty.
func del(m Node, segs []string) bool {
	if len(segs) == 1 {
		delete(m, segs[0])
		return len(m) == 0
	}
	child, ok := m[segs[0]].(map[string]any)
	if !ok {
		return len(m) == 0
	}
	if del(child, segs[1:]) {
		delete(m, segs[0])
	}
	return len(m) == 0
}

// Marshal encodes a tree value. Object keys come out sorted, so equal
// values always produce equal bytes.
func Marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Clone deep-copies a tree value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = Clone(c)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = Clone(c)
		}
		return out
	default:
		return v
	}
}

// Flatten returns every leaf below v keyed by its full path, prefixed with
// prefix.
func Flatten(prefix string, v any) map[string]any {
	out := make(map[string]any)
	flatten(out, prefix, v)
	return out
}

func flatten(out map[string]any, prefix string, v any) {
	m, ok := v.(map[string]any)
	if !ok {
		if v != nil {
			out[prefix] = v
		}
		return
	}
	for k, c := range m {
		key := k
		if prefix != "" {
			key = prefix + "/" + k
		}
		flatten(out, key, c)
	}
}

// SortedKeys returns the keys of an object node in lexical order.
func SortedKeys(n Node) []string {
	return slices.Sorted(maps.Keys(n))
}
