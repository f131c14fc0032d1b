package dataset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sample() Dataset {
	return Dataset{
		"metadata": map[string]any{
			"assetType": "Dataset",
			"titles": []any{
				map[string]any{"titleText": "Soil moisture 2019"},
			},
			"creators": []any{
				map[string]any{"creatorGivenName": "Ian", "creatorFamilyName": "Novak"},
				map[string]any{"creatorGivenName": "Ana"},
			},
			"keywords": []any{
				map[string]any{"keywordLabel": "soil"},
			},
			"externalSourceInformation": map[string]any{
				"externalSourceURI": "https://example.org/records/1",
			},
		},
	}
}

func TestGetResolvesNestedPaths(t *testing.T) {
	t.Parallel()

	d := sample()

	v, ok := d.Get("metadata.creators[0].creatorGivenName")
	require.True(t, ok)
	require.Equal(t, "Ian", v)

	v, ok = d.Get("metadata.titles[0].titleText")
	require.True(t, ok)
	require.Equal(t, "Soil moisture 2019", v)

	_, ok = d.Get("metadata.creators[5].creatorGivenName")
	require.False(t, ok)

	_, ok = d.Get("metadata.missing.deeper")
	require.False(t, ok)
}

func TestSetReplacesScalar(t *testing.T) {
	t.Parallel()

	d := sample()
	require.NoError(t, d.Set("metadata.creators[0].creatorGivenName", "Jan"))

	v, ok := d.Get("metadata.creators[0].creatorGivenName")
	require.True(t, ok)
	require.Equal(t, "Jan", v)
}

func TestSetCreatesMissingObjects(t *testing.T) {
	t.Parallel()

	d := sample()
	require.NoError(t, d.Set("metadata.externalSourceInformation.externalSourceName", "Zenodo"))
	require.NoError(t, d.Set("pids.doi.identifier", "10.1234/abc"))

	v, ok := d.Get("pids.doi.identifier")
	require.True(t, ok)
	require.Equal(t, "10.1234/abc", v)
}

func TestSetRejectsOutOfRangeIndex(t *testing.T) {
	t.Parallel()

	d := sample()
	require.Error(t, d.Set("metadata.creators[9].creatorGivenName", "x"))
	// Index directly past the end extends the array.
	require.NoError(t, d.Set("metadata.keywords[1]", map[string]any{"keywordLabel": "water"}))
	v, ok := d.Get("metadata.keywords[1].keywordLabel")
	require.True(t, ok)
	require.Equal(t, "water", v)
}

func TestAppendRequiresExistingArray(t *testing.T) {
	t.Parallel()

	d := sample()
	require.NoError(t, d.Append("metadata.keywords", map[string]any{"keywordLabel": "moisture"}))
	v, ok := d.Get("metadata.keywords[1].keywordLabel")
	require.True(t, ok)
	require.Equal(t, "moisture", v)

	require.Error(t, d.Append("metadata.externalSourceInformation", "x"))
	require.Error(t, d.Append("metadata.nonexistent", "x"))
}

func TestRemoveDeletesKeysAndNullsElements(t *testing.T) {
	t.Parallel()

	d := sample()
	require.NoError(t, d.Remove("metadata.creators[1].creatorGivenName"))
	_, ok := d.Get("metadata.creators[1].creatorGivenName")
	require.False(t, ok)

	require.NoError(t, d.Remove("metadata.creators[0]"))
	v, ok := d.Get("metadata.creators[0]")
	require.True(t, ok)
	require.Nil(t, v)

	// Sibling indices are untouched.
	v, ok = d.Get("metadata.creators[1]")
	require.True(t, ok)
	require.NotNil(t, v)
}

func TestParsePathRejectsMalformedPaths(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"", "a..b", "a[x]", "a[-1]", "[0]", "a[0"} {
		_, err := parsePath(path)
		require.Error(t, err, "path %q", path)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	d := sample()
	c := d.Clone()
	require.NoError(t, c.Set("metadata.creators[0].creatorGivenName", "Jan"))

	v, ok := d.Get("metadata.creators[0].creatorGivenName")
	require.True(t, ok)
	require.Equal(t, "Ian", v)
}

func TestEqualToleratesNumericTypes(t *testing.T) {
	t.Parallel()

	require.True(t, Equal(map[string]any{"n": 1}, map[string]any{"n": float64(1)}))
	require.True(t, Equal(nil, nil))
	require.False(t, Equal(map[string]any{"n": 1}, map[string]any{"n": 2}))
}

func TestIsEmptyAndPruneEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, IsEmpty(nil))
	require.True(t, IsEmpty("  "))
	require.True(t, IsEmpty([]any{}))
	require.True(t, IsEmpty(map[string]any{"a": nil, "b": []any{}}))
	require.False(t, IsEmpty(float64(0)))
	require.False(t, IsEmpty(false))

	pruned := PruneEmpty(map[string]any{"a": "", "b": []any{nil, "x"}})
	require.Equal(t, map[string]any{"b": []any{"x"}}, pruned)
	require.Nil(t, PruneEmpty([]any{nil, ""}))
}

func TestRelatedIdentifierHelpers(t *testing.T) {
	t.Parallel()

	d := sample()
	d.AddRelatedIdentifier(RelationIsNewVersionOf, "https://example.org/records/0")
	d.AddRelatedIdentifier(RelationIsNewVersionOf, "https://example.org/records/0") // dedup

	rels := d.RelatedIdentifiers()
	require.Len(t, rels, 1)
	require.Equal(t, RelationIsNewVersionOf, rels[0].RelationType)
	require.Equal(t, "https://example.org/records/0", rels[0].RelatedID)
}
