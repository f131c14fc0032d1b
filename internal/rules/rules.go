// Package rules implements the override rule engine: generating field-level
// rules from a curator's edit and applying stored rules to freshly harvested
// datasets without ever leaving a record in a schema-invalid state.
package rules

import (
	"fmt"
	"sort"

	"github.com/elter-ri/dar-harvester/internal/dataset"
)

// Type classifies what a rule does to its target path.
type Type string

// Rule types.
const (
	TypeReplace Type = "REPLACE"
	TypeAdd     Type = "ADD"
	TypeRemove  Type = "REMOVE"
)

// Rule is one durable field-level override, unique per
// (registry ID, target path).
type Rule struct {
	ID          string `json:"id"`
	RegistryID  string `json:"registry_id"`
	Type        Type   `json:"rule_type"`
	TargetPath  string `json:"target_path"`
	BeforeValue any    `json:"before_value"`
	AfterValue  any    `json:"after_value"`
}

// Generate compares two canonical dataset trees and returns the rules that
// transform original into edited. Objects are compared over the union of
// their keys; arrays are compared strictly by index position, so a mid-list
// insertion produces element-wise replacements plus one trailing ADD rather
// than a single insertion. No rule is emitted where the trees deep-equal.
func Generate(registryID string, original, edited dataset.Dataset) []Rule {
	var out []Rule
	diff(registryID, "", map[string]any(original), map[string]any(edited), &out)
	return out
}

func diff(registryID, path string, original, edited any, out *[]Rule) {
	if dataset.Equal(original, edited) {
		return
	}

	origMap, origIsMap := original.(map[string]any)
	editMap, editIsMap := edited.(map[string]any)
	if origIsMap && editIsMap {
		keys := unionKeys(origMap, editMap)
		for _, key := range keys {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			origVal, inOrig := origMap[key]
			editVal, inEdit := editMap[key]
			switch {
			case inOrig && inEdit:
				diff(registryID, childPath, origVal, editVal, out)
			case inEdit:
				*out = append(*out, Rule{
					RegistryID:  registryID,
					Type:        TypeReplace,
					TargetPath:  childPath,
					BeforeValue: nil,
					AfterValue:  editVal,
				})
			default:
				*out = append(*out, Rule{
					RegistryID:  registryID,
					Type:        TypeRemove,
					TargetPath:  childPath,
					BeforeValue: origVal,
					AfterValue:  nil,
				})
			}
		}
		return
	}

	origArr, origIsArr := original.([]any)
	editArr, editIsArr := edited.([]any)
	if origIsArr && editIsArr {
		shared := len(origArr)
		if len(editArr) < shared {
			shared = len(editArr)
		}
		for i := 0; i < shared; i++ {
			diff(registryID, fmt.Sprintf("%s[%d]", path, i), origArr[i], editArr[i], out)
		}
		for i := shared; i < len(editArr); i++ {
			*out = append(*out, Rule{
				RegistryID: registryID,
				Type:       TypeAdd,
				TargetPath: path,
				AfterValue: editArr[i],
			})
		}
		for i := shared; i < len(origArr); i++ {
			*out = append(*out, Rule{
				RegistryID:  registryID,
				Type:        TypeRemove,
				TargetPath:  fmt.Sprintf("%s[%d]", path, i),
				BeforeValue: origArr[i],
				AfterValue:  nil,
			})
		}
		return
	}

	// Scalar mismatch, or the node changed shape entirely.
	*out = append(*out, Rule{
		RegistryID:  registryID,
		Type:        TypeReplace,
		TargetPath:  path,
		BeforeValue: original,
		AfterValue:  edited,
	})
}

func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
