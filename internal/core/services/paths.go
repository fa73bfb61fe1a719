package services

import (
	"strconv"
	"strings"
)

// lookupPath resolves a dotted path ("variants.0.price") against a native payload.
// Numeric segments index slices.
func lookupPath(fields map[string]any, path string) (any, bool) {
	var cur any = fields
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// setPath writes v at a dotted path, creating intermediate maps and slices.
func setPath(fields map[string]any, path string, v any) {
	segs := strings.Split(path, ".")
	setSegments(fields, segs, v)
}

func setSegments(node map[string]any, segs []string, v any) {
	head := segs[0]
	if len(segs) == 1 {
		node[head] = v
		return
	}

	next := segs[1]
	if idx, err := strconv.Atoi(next); err == nil && idx >= 0 {
		list, _ := node[head].([]any)
		for len(list) <= idx {
			list = append(list, map[string]any{})
		}
		if len(segs) == 2 {
			list[idx] = v
		} else {
			child, ok := list[idx].(map[string]any)
			if !ok {
				child = map[string]any{}
				list[idx] = child
			}
			setSegments(child, segs[2:], v)
		}
		node[head] = list
		return
	}

	child, ok := node[head].(map[string]any)
	if !ok {
		child = map[string]any{}
		node[head] = child
	}
	setSegments(child, segs[1:], v)
}

// pathInSchema reports whether path or one of its prefixes is listed in schema.
func pathInSchema(schema map[string]struct{}, path string) bool {
	segs := strings.Split(path, ".")
	for i := len(segs); i > 0; i-- {
		if _, ok := schema[strings.Join(segs[:i], ".")]; ok {
			return true
		}
	}
	return false
}
