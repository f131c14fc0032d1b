// Package dataset models the canonical dataset tree shared by the mappers,
// the rule engine, and the registry client.
//
// A Dataset is the decoded JSON form of one canonical record: nested
// map[string]any objects, []any lists, and scalar leaves. All field access
// by path strings goes through the accessor in path.go so the diff engine,
// the rule engine, and the HTTP surface agree on path semantics.
package dataset

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Relation types recorded on multi-version chains.
const (
	RelationIsNewVersionOf      = "IsNewVersionOf"
	RelationIsPreviousVersionOf = "IsPreviousVersionOf"
)

// Dataset is one canonical dataset record.
type Dataset map[string]any

// RelatedIdentifier links a dataset to another resource, typically a
// sibling version in an upstream version chain.
type RelatedIdentifier struct {
	RelatedID    string
	RelationType string
}

// FromJSON decodes raw JSON into a Dataset.
func FromJSON(raw []byte) (Dataset, error) {
	var d Dataset
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return d, nil
}

// Clone returns a deep copy. Rule application mutates copies first and only
// commits to the live dataset after schema validation passes.
func (d Dataset) Clone() Dataset {
	copied, ok := deepCopy(map[string]any(d)).(map[string]any)
	if !ok {
		return Dataset{}
	}
	return copied
}

// Title returns the first canonical title text, or "".
func (d Dataset) Title() string {
	v, ok := d.Get("metadata.titles[0].titleText")
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// SourceURI returns the externally-visible source URI, or "".
func (d Dataset) SourceURI() string {
	v, ok := d.Get("metadata.externalSourceInformation.externalSourceURI")
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// RelatedIdentifiers returns all relation entries on the dataset.
func (d Dataset) RelatedIdentifiers() []RelatedIdentifier {
	v, ok := d.Get("metadata.relatedIdentifiers")
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]RelatedIdentifier, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["relatedID"].(string)
		rel, _ := m["relationType"].(string)
		if id != "" {
			out = append(out, RelatedIdentifier{RelatedID: id, RelationType: rel})
		}
	}
	return out
}

// AddRelatedIdentifier appends a relation entry, creating the list as needed.
func (d Dataset) AddRelatedIdentifier(relationType, relatedID string) {
	meta, ok := d["metadata"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		d["metadata"] = meta
	}
	list, _ := meta["relatedIdentifiers"].([]any)
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if m["relatedID"] == relatedID && m["relationType"] == relationType {
				return
			}
		}
	}
	meta["relatedIdentifiers"] = append(list, map[string]any{
		"relatedID":     relatedID,
		"relatedIDType": "URL",
		"relationType":  relationType,
	})
}

// Equal reports deep equality of two JSON-like values, tolerant of mixed
// numeric types (int from Go code vs float64 from decoded JSON).
func Equal(a, b any) bool {
	an, aerr := normalize(a)
	bn, berr := normalize(b)
	if aerr != nil || berr != nil {
		return false
	}
	return reflect.DeepEqual(an, bn)
}

// IsAtomic reports whether v is a scalar leaf: string, number, boolean, or
// null. Rules of type REPLACE and REMOVE may only target atomic values.
func IsAtomic(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, json.Number:
		return true
	default:
		return false
	}
}

// IsEmpty reports whether v carries no information: null, blank string, or
// an array/object whose members are all empty. Stale-rule checks treat such
// values as equivalent to absent.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		for _, item := range t {
			if !IsEmpty(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range t {
			if !IsEmpty(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// PruneEmpty returns v with empty structures collapsed to nil, recursively.
func PruneEmpty(v any) any {
	if IsEmpty(v) {
		return nil
	}
	switch t := v.(type) {
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if pruned := PruneEmpty(item); pruned != nil {
				out = append(out, pruned)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if pruned := PruneEmpty(item); pruned != nil {
				out[k] = pruned
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return v
	}
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
