package intent

import "strings"

// Resolve walks a dotted path through a tree of string-keyed nodes.
// Absent paths resolve to nil rather than an error, so rules can reference
// fields that a particular intent does not carry.
func Resolve(tree map[string]any, path string) any {
	cur := any(tree)
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[part]
		if !ok {
			return nil
		}
	}
	return cur
}
