package rules

import (
	"strings"

	"go.uber.org/zap"

	"github.com/elter-ri/dar-harvester/internal/dataset"
	"github.com/elter-ri/dar-harvester/internal/metrics"
)

// Outcome reports what Apply did with a rule.
type Outcome int

// Apply outcomes. Stale and Converged rules should be deleted by the caller;
// Rejected rules stay in place for manual review.
const (
	OutcomeApplied Outcome = iota
	OutcomeConverged
	OutcomeStale
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeConverged:
		return "converged"
	case OutcomeStale:
		return "stale"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// The provenance block is written by the harvester itself and must never be
// overridden by a curator rule.
const protectedPathPrefix = "metadata.externalSourceInformation"

// Engine applies rules against live datasets, gated by the canonical schema.
type Engine struct {
	validator *dataset.Validator
	log       *zap.Logger
}

// NewEngine builds an Engine around the given schema validator.
func NewEngine(validator *dataset.Validator, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{validator: validator, log: log}
}

// Apply attempts to apply one rule to d.
//
// The mutation is first performed on a deep copy and validated against the
// canonical schema; only if validation passes is the same mutation committed
// to d. On any outcome other than OutcomeApplied, d is left untouched.
func (e *Engine) Apply(d dataset.Dataset, r Rule) Outcome {
	outcome := e.apply(d, r)
	metrics.CountRuleApplication(outcome.String())
	return outcome
}

func (e *Engine) apply(d dataset.Dataset, r Rule) Outcome {
	if strings.HasPrefix(r.TargetPath, protectedPathPrefix) {
		e.log.Warn("rule targets protected provenance path",
			zap.String("target_path", r.TargetPath))
		return OutcomeRejected
	}

	current, _ := d.Get(r.TargetPath)

	switch r.Type {
	case TypeAdd:
		return e.applyAdd(d, r, current)
	case TypeReplace, TypeRemove:
		return e.applyScalar(d, r, current)
	default:
		e.log.Warn("unknown rule type",
			zap.String("rule_type", string(r.Type)),
			zap.String("target_path", r.TargetPath))
		return OutcomeRejected
	}
}

func (e *Engine) applyScalar(d dataset.Dataset, r Rule, current any) Outcome {
	// Upstream already reports what the curator wanted: the override is
	// satisfied and no longer needed.
	if dataset.Equal(dataset.PruneEmpty(current), dataset.PruneEmpty(r.AfterValue)) {
		return OutcomeConverged
	}

	// Null, empty arrays, and empty objects count as equivalent when
	// deciding staleness, matching how curators perceive blank fields.
	if !dataset.Equal(dataset.PruneEmpty(current), dataset.PruneEmpty(r.BeforeValue)) {
		e.log.Info("rule is stale: unmodified value drifted from before value",
			zap.String("target_path", r.TargetPath))
		return OutcomeStale
	}

	if !dataset.IsAtomic(current) {
		e.log.Warn("rule targets a non-atomic value",
			zap.String("rule_type", string(r.Type)),
			zap.String("target_path", r.TargetPath))
		return OutcomeRejected
	}

	mutate := func(target dataset.Dataset) error {
		if r.Type == TypeRemove {
			return target.Remove(r.TargetPath)
		}
		return target.Set(r.TargetPath, r.AfterValue)
	}
	return e.validateAndCommit(d, r, mutate)
}

func (e *Engine) applyAdd(d dataset.Dataset, r Rule, current any) Outcome {
	arr, ok := current.([]any)
	if !ok {
		e.log.Warn("ADD rule target is not an array",
			zap.String("target_path", r.TargetPath))
		return OutcomeRejected
	}
	for _, item := range arr {
		if dataset.Equal(item, r.AfterValue) {
			return OutcomeConverged
		}
	}
	mutate := func(target dataset.Dataset) error {
		return target.Append(r.TargetPath, r.AfterValue)
	}
	return e.validateAndCommit(d, r, mutate)
}

func (e *Engine) validateAndCommit(d dataset.Dataset, r Rule, mutate func(dataset.Dataset) error) Outcome {
	trial := d.Clone()
	if err := mutate(trial); err != nil {
		e.log.Warn("rule mutation failed",
			zap.String("target_path", r.TargetPath),
			zap.Error(err))
		return OutcomeRejected
	}
	if err := e.validator.Validate(trial); err != nil {
		e.log.Error("rule application failed schema validation",
			zap.String("target_path", r.TargetPath),
			zap.Error(err))
		return OutcomeRejected
	}
	if err := mutate(d); err != nil {
		e.log.Error("rule commit failed after trial succeeded",
			zap.String("target_path", r.TargetPath),
			zap.Error(err))
		return OutcomeRejected
	}
	return OutcomeApplied
}
