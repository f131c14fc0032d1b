package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// Path addressing: dot-separated keys with optional bracket indices, e.g.
// "metadata.creators[0].creatorGivenName". This is the one parser shared by
// diff generation, rule application, and the HTTP surface.

type pathSegment struct {
	key   string
	index int // -1 when the segment carries no index
}

type pathOp int

const (
	opSet pathOp = iota
	opAppend
	opRemove
)

func parsePath(path string) ([]pathSegment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	segs := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("path %q has an empty segment", path)
		}
		seg := pathSegment{key: part, index: -1}
		if open := strings.IndexByte(part, '['); open >= 0 {
			if !strings.HasSuffix(part, "]") || open == 0 {
				return nil, fmt.Errorf("path %q has a malformed index segment %q", path, part)
			}
			idx, err := strconv.Atoi(part[open+1 : len(part)-1])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("path %q has a non-numeric index in %q", path, part)
			}
			seg.key = part[:open]
			seg.index = idx
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// Get returns the value at path and whether the full path resolved.
func (d Dataset) Get(path string) (any, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}
	var node any = map[string]any(d)
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg.key]
		if !ok {
			return nil, false
		}
		if seg.index >= 0 {
			arr, ok := node.([]any)
			if !ok || seg.index >= len(arr) {
				return nil, false
			}
			node = arr[seg.index]
		}
	}
	return node, true
}

// Set writes v at path, creating intermediate objects as needed. Array
// indices must point at an existing element or directly past the end.
func (d Dataset) Set(path string, v any) error {
	return d.mutate(path, v, opSet)
}

// Append pushes v onto the array at path. The array must already exist.
func (d Dataset) Append(path string, v any) error {
	return d.mutate(path, v, opAppend)
}

// Remove clears the value at path: object keys are deleted, array elements
// are nulled in place so sibling rule paths keep their indices.
func (d Dataset) Remove(path string) error {
	return d.mutate(path, nil, opRemove)
}

func (d Dataset) mutate(path string, v any, op pathOp) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	_, err = applyAt(map[string]any(d), segs, v, op)
	if err != nil {
		return fmt.Errorf("path %q: %w", path, err)
	}
	return nil
}

// applyAt walks one segment and recurses. It returns the (possibly
// reallocated) node so appends into nested slices propagate upward.
func applyAt(node any, segs []pathSegment, v any, op pathOp) (any, error) {
	seg := segs[0]
	last := len(segs) == 1

	m, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("segment %q is not an object", seg.key)
	}

	if seg.index < 0 {
		if last {
			switch op {
			case opSet:
				m[seg.key] = v
			case opRemove:
				delete(m, seg.key)
			case opAppend:
				arr, ok := m[seg.key].([]any)
				if !ok {
					return nil, fmt.Errorf("append target %q is not an array", seg.key)
				}
				m[seg.key] = append(arr, v)
			}
			return m, nil
		}
		child, exists := m[seg.key]
		if !exists || child == nil {
			if op == opRemove {
				return m, nil
			}
			child = map[string]any{}
			m[seg.key] = child
		}
		updated, err := applyAt(child, segs[1:], v, op)
		if err != nil {
			return nil, err
		}
		m[seg.key] = updated
		return m, nil
	}

	arr, ok := m[seg.key].([]any)
	if !ok {
		return nil, fmt.Errorf("segment %q is not an array", seg.key)
	}
	if last {
		switch op {
		case opSet:
			switch {
			case seg.index < len(arr):
				arr[seg.index] = v
			case seg.index == len(arr):
				m[seg.key] = append(arr, v)
			default:
				return nil, fmt.Errorf("index %d out of range for %q (len %d)", seg.index, seg.key, len(arr))
			}
		case opRemove:
			if seg.index < len(arr) {
				arr[seg.index] = nil
			}
		case opAppend:
			if seg.index >= len(arr) {
				return nil, fmt.Errorf("index %d out of range for %q (len %d)", seg.index, seg.key, len(arr))
			}
			inner, ok := arr[seg.index].([]any)
			if !ok {
				return nil, fmt.Errorf("append target %s[%d] is not an array", seg.key, seg.index)
			}
			arr[seg.index] = append(inner, v)
		}
		return m, nil
	}
	if seg.index >= len(arr) {
		return nil, fmt.Errorf("index %d out of range for %q (len %d)", seg.index, seg.key, len(arr))
	}
	elem := arr[seg.index]
	if elem == nil {
		if op == opRemove {
			return m, nil
		}
		elem = map[string]any{}
	}
	updated, err := applyAt(elem, segs[1:], v, op)
	if err != nil {
		return nil, err
	}
	arr[seg.index] = updated
	return m, nil
}
