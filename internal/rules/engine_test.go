package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elter-ri/dar-harvester/internal/dataset"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	validator, err := dataset.NewValidator()
	require.NoError(t, err)
	return NewEngine(validator, zap.NewNop())
}

func TestApplyReplacesWhenBeforeValueMatches(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	d := testDataset()

	outcome := engine.Apply(d, Rule{
		Type:        TypeReplace,
		TargetPath:  "metadata.creators[0].creatorGivenName",
		BeforeValue: "Ian",
		AfterValue:  "Jan",
	})
	require.Equal(t, OutcomeApplied, outcome)

	v, ok := d.Get("metadata.creators[0].creatorGivenName")
	require.True(t, ok)
	require.Equal(t, "Jan", v)
}

func TestApplyStaleWhenUpstreamDrifted(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	d := testDataset()
	require.NoError(t, d.Set("metadata.creators[0].creatorGivenName", "Marek"))

	outcome := engine.Apply(d, Rule{
		Type:        TypeReplace,
		TargetPath:  "metadata.creators[0].creatorGivenName",
		BeforeValue: "Ian",
		AfterValue:  "Jan",
	})
	require.Equal(t, OutcomeStale, outcome)

	// The drifted upstream value survives untouched.
	v, _ := d.Get("metadata.creators[0].creatorGivenName")
	require.Equal(t, "Marek", v)
}

func TestApplyConvergedWhenUpstreamCaughtUp(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	d := testDataset()
	require.NoError(t, d.Set("metadata.creators[0].creatorGivenName", "Jan"))

	outcome := engine.Apply(d, Rule{
		Type:        TypeReplace,
		TargetPath:  "metadata.creators[0].creatorGivenName",
		BeforeValue: "Ian",
		AfterValue:  "Jan",
	})
	require.Equal(t, OutcomeConverged, outcome)
}

func TestApplyRejectsStructuralReplace(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	d := testDataset()
	before, _ := d.Get("metadata.creators[0]")

	outcome := engine.Apply(d, Rule{
		Type:        TypeReplace,
		TargetPath:  "metadata.creators[0]",
		BeforeValue: before,
		AfterValue:  map[string]any{"creatorGivenName": "Jan"},
	})
	require.Equal(t, OutcomeRejected, outcome)
}

func TestApplyRejectsProtectedPath(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	d := testDataset()

	outcome := engine.Apply(d, Rule{
		Type:        TypeReplace,
		TargetPath:  "metadata.externalSourceInformation.externalSourceURI",
		BeforeValue: "https://example.org/records/1",
		AfterValue:  "https://evil.example.org",
	})
	require.Equal(t, OutcomeRejected, outcome)
}

func TestApplySchemaRejectionLeavesDatasetUntouched(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	d := testDataset()

	// titleText must be a string per the canonical schema.
	outcome := engine.Apply(d, Rule{
		Type:        TypeReplace,
		TargetPath:  "metadata.titles[0].titleText",
		BeforeValue: "Soil moisture 2019",
		AfterValue:  float64(42),
	})
	require.Equal(t, OutcomeRejected, outcome)

	v, _ := d.Get("metadata.titles[0].titleText")
	require.Equal(t, "Soil moisture 2019", v)
}

func TestApplyAddAppendsToArray(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	d := testDataset()

	outcome := engine.Apply(d, Rule{
		Type:       TypeAdd,
		TargetPath: "metadata.keywords",
		AfterValue: map[string]any{"keywordLabel": "hydrology"},
	})
	require.Equal(t, OutcomeApplied, outcome)

	v, ok := d.Get("metadata.keywords[2].keywordLabel")
	require.True(t, ok)
	require.Equal(t, "hydrology", v)

	// Applying the same ADD again converges instead of duplicating.
	outcome = engine.Apply(d, Rule{
		Type:       TypeAdd,
		TargetPath: "metadata.keywords",
		AfterValue: map[string]any{"keywordLabel": "hydrology"},
	})
	require.Equal(t, OutcomeConverged, outcome)
}

func TestApplyAddRejectsNonArrayTarget(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	d := testDataset()

	outcome := engine.Apply(d, Rule{
		Type:       TypeAdd,
		TargetPath: "metadata.titles[0].titleText",
		AfterValue: "x",
	})
	require.Equal(t, OutcomeRejected, outcome)
}

func TestApplyRemoveAtomicValue(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	d := testDataset()

	outcome := engine.Apply(d, Rule{
		Type:        TypeRemove,
		TargetPath:  "metadata.creators[0].creatorFamilyName",
		BeforeValue: "Novak",
	})
	require.Equal(t, OutcomeApplied, outcome)

	_, ok := d.Get("metadata.creators[0].creatorFamilyName")
	require.False(t, ok)
}

func TestApplyTreatsEmptyStructuresAsEquivalent(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	d := testDataset()
	require.NoError(t, d.Set("metadata.language", ""))

	// Curator saw a blank field; upstream now reports an empty string.
	// Empty-structure normalization keeps the rule appliable.
	outcome := engine.Apply(d, Rule{
		Type:        TypeReplace,
		TargetPath:  "metadata.language",
		BeforeValue: nil,
		AfterValue:  "en",
	})
	require.Equal(t, OutcomeApplied, outcome)
}
