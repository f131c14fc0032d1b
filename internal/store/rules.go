package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/elter-ri/dar-harvester/internal/rules"
)

// RuleStore persists curator override rules keyed by (registry_id, target_path).
type RuleStore struct {
	db Querier
	mu *sync.Mutex
}

// ListForRecord returns all rules attached to one registry entry, ordered by
// target path so apply order is deterministic.
func (s *RuleStore) ListForRecord(ctx context.Context, registryID string) ([]rules.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(ctx,
		`SELECT id, registry_id, rule_type, target_path, before_value, after_value
		 FROM record_rules WHERE registry_id = $1 ORDER BY target_path`, registryID)
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", registryID, err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var (
			r             rules.Rule
			before, after []byte
		)
		if err := rows.Scan(&r.ID, &r.RegistryID, &r.Type, &r.TargetPath, &before, &after); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if len(before) > 0 {
			if err := json.Unmarshal(before, &r.BeforeValue); err != nil {
				return nil, fmt.Errorf("decode before_value of rule %s: %w", r.ID, err)
			}
		}
		if len(after) > 0 {
			if err := json.Unmarshal(after, &r.AfterValue); err != nil {
				return nil, fmt.Errorf("decode after_value of rule %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", registryID, err)
	}
	return out, nil
}

// CountForRecord reports how many rules are attached to one registry entry.
func (s *RuleStore) CountForRecord(ctx context.Context, registryID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM record_rules WHERE registry_id = $1`, registryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rules for %s: %w", registryID, err)
	}
	return n, nil
}

// Upsert inserts the rule, replacing any existing rule on the same
// (registry_id, target_path). A curator re-editing the same field keeps one
// rule per path rather than stacking rules. Assigns an ID when missing.
func (s *RuleStore) Upsert(ctx context.Context, r *rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	before, err := encodeValue(r.BeforeValue)
	if err != nil {
		return fmt.Errorf("encode before_value: %w", err)
	}
	after, err := encodeValue(r.AfterValue)
	if err != nil {
		return fmt.Errorf("encode after_value: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO record_rules (id, registry_id, rule_type, target_path, before_value, after_value)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (registry_id, target_path) DO UPDATE
		 SET rule_type = EXCLUDED.rule_type,
		     before_value = EXCLUDED.before_value,
		     after_value = EXCLUDED.after_value`,
		r.ID, r.RegistryID, r.Type, r.TargetPath, before, after)
	if err != nil {
		return fmt.Errorf("upsert rule %s %s: %w", r.RegistryID, r.TargetPath, err)
	}
	return nil
}

// Delete removes one rule by ID, scoped to the registry entry it belongs to.
// A mismatched pair deletes nothing.
func (s *RuleStore) Delete(ctx context.Context, registryID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(ctx,
		`DELETE FROM record_rules WHERE registry_id = $1 AND id = $2`, registryID, id)
	if err != nil {
		return fmt.Errorf("delete rule %s of %s: %w", id, registryID, err)
	}
	return nil
}

// DeleteForRecord removes all rules attached to one registry entry, used
// when the entry itself is retired.
func (s *RuleStore) DeleteForRecord(ctx context.Context, registryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(ctx, `DELETE FROM record_rules WHERE registry_id = $1`, registryID)
	if err != nil {
		return fmt.Errorf("delete rules for %s: %w", registryID, err)
	}
	return nil
}

func encodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
