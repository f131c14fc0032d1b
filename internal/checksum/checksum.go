// Package checksum computes deterministic digests of JSON-like values.
//
// Two digests are tracked per harvested record: the hash of the raw vendor
// payload (detects any upstream change) and the hash of the canonical,
// rule-applied dataset (detects whether the registry-facing representation
// changed). Both use the same function.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Of returns the SHA-256 hex digest of v's canonical JSON form.
//
// The value is round-tripped through generic maps before hashing so the
// digest is independent of struct field order and of the key order produced
// by different mapping code paths: encoding/json emits map keys sorted.
func Of(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	var norm any
	if err := json.Unmarshal(raw, &norm); err != nil {
		return "", fmt.Errorf("normalize value: %w", err)
	}
	canonical, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("marshal canonical form: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
