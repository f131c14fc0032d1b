package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elter-ri/dar-harvester/internal/config"
	"github.com/elter-ri/dar-harvester/internal/dataset"
)

func validate(t *testing.T, d dataset.Dataset) {
	t.Helper()
	v, err := dataset.NewValidator()
	require.NoError(t, err)
	require.NoError(t, v.Validate(d))
}

func TestMapZenodo(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"doi": "10.5281/zenodo.42",
		"metadata": map[string]any{
			"title":            "Soil moisture 2024",
			"description":      "Hourly soil moisture readings.",
			"publication_date": "2024-03-01",
			"creators": []any{
				map[string]any{"name": "Nyberg, Ann", "affiliation": "SLU", "orcid": "0000-0001-2345-6789"},
				map[string]any{"name": "Marek Kowalski"},
			},
			"keywords": []any{"soil", "moisture"},
			"license":  map[string]any{"id": "CC-BY-4.0"},
		},
	}

	d, err := MapZenodo("zenodo", "https://zenodo.org/api/records/42", raw)
	require.NoError(t, err)
	validate(t, d)

	assert.Equal(t, "Soil moisture 2024", d.Title())
	assert.Equal(t, "https://zenodo.org/api/records/42", d.SourceURI())

	first, ok := d.Get("metadata.creators[0]")
	require.True(t, ok)
	assert.Equal(t, "Nyberg", first.(map[string]any)["creatorFamilyName"])
	second, ok := d.Get("metadata.creators[1].creatorFamilyName")
	require.True(t, ok)
	assert.Equal(t, "Kowalski", second)

	doi, ok := d.Get("pids.doi.identifier")
	require.True(t, ok)
	assert.Equal(t, "10.5281/zenodo.42", doi)
}

func TestMapB2Share(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"metadata": map[string]any{
			"titles":       []any{map[string]any{"title": "Stream chemistry"}},
			"descriptions": []any{map[string]any{"description": "Weekly samples.", "description_type": "Abstract"}},
			"creators":     []any{map[string]any{"creator_name": "Vesala, Timo"}},
			"keywords":     []any{"stream"},
			"license":      map[string]any{"license": "CC0", "license_uri": "https://creativecommons.org/publicdomain/zero/1.0/"},
		},
	}

	d, err := MapB2Share("b2share", "https://b2share.eudat.eu/api/records/abc", raw)
	require.NoError(t, err)
	validate(t, d)
	assert.Equal(t, "Stream chemistry", d.Title())

	lic, ok := d.Get("metadata.licenses[0].licenseCode")
	require.True(t, ok)
	assert.Equal(t, "CC0", lic)
}

func TestMapB2ShareMissingMetadata(t *testing.T) {
	t.Parallel()

	_, err := MapB2Share("b2share", "https://b2share.eudat.eu/api/records/abc", map[string]any{})
	assert.Error(t, err)
}

func TestMapSitesTemporalCoverage(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"name":             "Svartberget runoff",
		"temporalCoverage": "2019-01-01/2023-12-31",
		"license":          "https://creativecommons.org/licenses/by/4.0/",
	}

	d, err := MapSites("sites", "https://data.fieldsites.se/objects/xyz", raw)
	require.NoError(t, err)
	validate(t, d)

	start, ok := d.Get("metadata.temporalCoverages[0].startDate")
	require.True(t, ok)
	assert.Equal(t, "2019-01-01", start)
	end, ok := d.Get("metadata.temporalCoverages[0].endDate")
	require.True(t, ok)
	assert.Equal(t, "2023-12-31", end)
}

func TestMatchDeimsFindsNestedReferences(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"metadata": map[string]any{
			"related_identifiers": []any{
				map[string]any{"identifier": "https://deims.org/8eda49e9-1f4e-4f3e-b58e-e0bb25dc32a6"},
				map[string]any{"identifier": "https://doi.org/10.1234/x"},
			},
			"notes": "See https://deims.org/8eda49e9-1f4e-4f3e-b58e-e0bb25dc32a6 for the site.",
		},
	}

	refs := MatchDeims(raw)
	require.Len(t, refs, 1)
	assert.Equal(t, "8eda49e9-1f4e-4f3e-b58e-e0bb25dc32a6", refs[0].SiteID)
}

func TestAttachSites(t *testing.T) {
	t.Parallel()

	d := newCanonical("zenodo", "https://zenodo.org/api/records/42")
	AttachSites(d, []SiteRef{{SiteID: "abc", SiteName: "Svartberget"}})

	id, ok := d.Get("metadata.siteReferences[0].siteID")
	require.True(t, ok)
	assert.Equal(t, "abc", id)
}

func TestForTypeCoversAllRepositoryTypes(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{config.TypeB2Share, config.TypeZenodo, config.TypeDataRegistry, config.TypeSites} {
		m, match, err := ForType(typ)
		require.NoError(t, err, typ)
		assert.NotNil(t, m)
		assert.NotNil(t, match)
	}
	_, _, err := ForType("gopher")
	assert.Error(t, err)
}
