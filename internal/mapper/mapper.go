// Package mapper converts raw repository payloads into the canonical
// dataset structure. One mapper per repository type; mapping stays shallow
// and forgiving, since vendors omit fields freely. Site matching degrades to
// an empty list on any failure.
package mapper

import (
	"fmt"
	"strings"

	"github.com/elter-ri/dar-harvester/internal/config"
	"github.com/elter-ri/dar-harvester/internal/dataset"
)

// SiteRef is one observation-site reference resolved from a raw payload.
type SiteRef struct {
	SiteID   string
	SiteName string
}

// Func maps one raw repository payload to the canonical dataset.
type Func func(sourceName, sourceURL string, raw map[string]any) (dataset.Dataset, error)

// Matcher extracts observation-site references from a raw payload.
type Matcher func(raw map[string]any) []SiteRef

// ForType returns the mapper and site matcher for a repository type.
func ForType(repoType string) (Func, Matcher, error) {
	switch repoType {
	case config.TypeB2Share:
		return MapB2Share, MatchDeims, nil
	case config.TypeZenodo:
		return MapZenodo, MatchDeims, nil
	case config.TypeDataRegistry:
		return MapDataRegistry, MatchDeims, nil
	case config.TypeSites:
		return MapSites, MatchDeims, nil
	default:
		return nil, nil, fmt.Errorf("no mapper for repository type %q", repoType)
	}
}

func newCanonical(sourceName, sourceURL string) dataset.Dataset {
	return dataset.Dataset{
		"metadata": map[string]any{
			"assetType": "Dataset",
			"externalSourceInformation": map[string]any{
				"externalSourceName": sourceName,
				"externalSourceURI":  sourceURL,
			},
		},
	}
}

// MapB2Share handles B2SHARE (Invenio) records.
func MapB2Share(sourceName, sourceURL string, raw map[string]any) (dataset.Dataset, error) {
	d := newCanonical(sourceName, sourceURL)
	meta := subMap(raw, "metadata")
	if meta == nil {
		return nil, fmt.Errorf("b2share record has no metadata object")
	}

	for _, t := range subSlice(meta, "titles") {
		if title := str(t, "title"); title != "" {
			appendAt(d, "metadata.titles", map[string]any{"titleText": title})
		}
	}
	for _, desc := range subSlice(meta, "descriptions") {
		if text := str(desc, "description"); text != "" {
			appendAt(d, "metadata.descriptions", map[string]any{
				"descriptionText": text,
				"descriptionType": strOrNil(desc, "description_type"),
			})
		}
	}
	for _, c := range subSlice(meta, "creators") {
		if name := str(c, "creator_name"); name != "" {
			appendAt(d, "metadata.creators", splitName(name))
		}
	}
	for _, kw := range strSlice(meta, "keywords") {
		appendAt(d, "metadata.keywords", map[string]any{"keywordLabel": kw})
	}
	if lic := subMap(meta, "license"); lic != nil {
		appendAt(d, "metadata.licenses", map[string]any{
			"licenseCode": strOrNil(lic, "license"),
			"licenseURI":  strOrNil(lic, "license_uri"),
		})
	}
	setStr(d, "metadata.publicationDate", str(meta, "publication_date"))
	setStr(d, "metadata.language", str(meta, "language"))
	setDOI(d, str(meta, "DOI"))
	return d, nil
}

// MapZenodo handles Zenodo records.
func MapZenodo(sourceName, sourceURL string, raw map[string]any) (dataset.Dataset, error) {
	d := newCanonical(sourceName, sourceURL)
	meta := subMap(raw, "metadata")
	if meta == nil {
		return nil, fmt.Errorf("zenodo record has no metadata object")
	}

	if title := str(meta, "title"); title != "" {
		appendAt(d, "metadata.titles", map[string]any{"titleText": title})
	}
	if desc := str(meta, "description"); desc != "" {
		appendAt(d, "metadata.descriptions", map[string]any{
			"descriptionText": desc,
			"descriptionType": "Abstract",
		})
	}
	for _, c := range subSlice(meta, "creators") {
		creator := splitName(str(c, "name"))
		if aff := str(c, "affiliation"); aff != "" {
			creator["creatorAffiliation"] = map[string]any{"entityName": aff}
		}
		if orcid := str(c, "orcid"); orcid != "" {
			creator["creatorIDs"] = []any{
				map[string]any{"entityID": orcid, "entityIDSchema": "ORCID"},
			}
		}
		appendAt(d, "metadata.creators", creator)
	}
	for _, kw := range strSlice(meta, "keywords") {
		appendAt(d, "metadata.keywords", map[string]any{"keywordLabel": kw})
	}
	if lic := subMap(meta, "license"); lic != nil {
		appendAt(d, "metadata.licenses", map[string]any{"licenseCode": strOrNil(lic, "id")})
	}
	setStr(d, "metadata.publicationDate", str(meta, "publication_date"))
	setDOI(d, str(raw, "doi"))
	return d, nil
}

// MapDataRegistry handles DataRegistry records, which carry a flat
// Dublin-Core-like shape.
func MapDataRegistry(sourceName, sourceURL string, raw map[string]any) (dataset.Dataset, error) {
	d := newCanonical(sourceName, sourceURL)

	if title := str(raw, "title"); title != "" {
		appendAt(d, "metadata.titles", map[string]any{"titleText": title})
	} else {
		return nil, fmt.Errorf("dataregistry record has no title")
	}
	if abstract := str(raw, "abstract"); abstract != "" {
		appendAt(d, "metadata.descriptions", map[string]any{
			"descriptionText": abstract,
			"descriptionType": "Abstract",
		})
	}
	for _, a := range subSlice(raw, "authors") {
		appendAt(d, "metadata.creators", map[string]any{
			"creatorFamilyName": strOrNil(a, "last_name"),
			"creatorGivenName":  strOrNil(a, "first_name"),
			"creatorEmail":      strOrNil(a, "email"),
		})
	}
	for _, kw := range strSlice(raw, "subjects") {
		appendAt(d, "metadata.keywords", map[string]any{"keywordLabel": kw})
	}
	setStr(d, "metadata.publicationDate", str(raw, "published"))
	return d, nil
}

// MapSites handles SITES data portal landing pages, which expose
// schema.org JSON-LD.
func MapSites(sourceName, sourceURL string, raw map[string]any) (dataset.Dataset, error) {
	d := newCanonical(sourceName, sourceURL)

	if name := str(raw, "name"); name != "" {
		appendAt(d, "metadata.titles", map[string]any{"titleText": name})
	} else {
		return nil, fmt.Errorf("sites record has no name")
	}
	if desc := str(raw, "description"); desc != "" {
		appendAt(d, "metadata.descriptions", map[string]any{
			"descriptionText": desc,
			"descriptionType": "Abstract",
		})
	}
	for _, c := range subSlice(raw, "creator") {
		appendAt(d, "metadata.creators", map[string]any{
			"creatorFamilyName": strOrNil(c, "familyName"),
			"creatorGivenName":  strOrNil(c, "givenName"),
		})
	}
	for _, kw := range strSlice(raw, "keywords") {
		appendAt(d, "metadata.keywords", map[string]any{"keywordLabel": kw})
	}
	if lic := str(raw, "license"); lic != "" {
		appendAt(d, "metadata.licenses", map[string]any{"licenseURI": lic})
	}
	if tc := str(raw, "temporalCoverage"); tc != "" {
		start, end, ok := strings.Cut(tc, "/")
		cov := map[string]any{"startDate": start}
		if ok {
			cov["endDate"] = end
		}
		appendAt(d, "metadata.temporalCoverages", cov)
	}
	setStr(d, "metadata.publicationDate", str(raw, "datePublished"))
	return d, nil
}

// MatchDeims walks the raw payload for DEIMS site URLs and returns them as
// site references. The DEIMS suffix after /datasets/ or the bare UUID is the
// site ID.
func MatchDeims(raw map[string]any) []SiteRef {
	seen := map[string]bool{}
	var refs []SiteRef
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for _, child := range t {
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		case string:
			id, ok := deimsID(t)
			if ok && !seen[id] {
				seen[id] = true
				refs = append(refs, SiteRef{SiteID: id})
			}
		}
	}
	walk(raw)
	return refs
}

func deimsID(s string) (string, bool) {
	const marker = "deims.org/"
	i := strings.Index(s, marker)
	if i < 0 {
		return "", false
	}
	id := s[i+len(marker):]
	if j := strings.IndexFunc(id, func(r rune) bool {
		return r == ' ' || r == '"' || r == '\'' || r == '<' || r == ')'
	}); j >= 0 {
		id = id[:j]
	}
	id = strings.Trim(id, "/.,")
	if id == "" {
		return "", false
	}
	return id, true
}

// AttachSites records the matched sites on the canonical dataset.
func AttachSites(d dataset.Dataset, refs []SiteRef) {
	for _, ref := range refs {
		site := map[string]any{"siteID": ref.SiteID}
		if ref.SiteName != "" {
			site["siteName"] = ref.SiteName
		}
		appendAt(d, "metadata.siteReferences", site)
	}
}

func subMap(m map[string]any, key string) map[string]any {
	child, _ := m[key].(map[string]any)
	return child
}

func subSlice(m map[string]any, key string) []map[string]any {
	arr, _ := m[key].([]any)
	var out []map[string]any
	for _, v := range arr {
		if obj, ok := v.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func strSlice(m map[string]any, key string) []string {
	arr, _ := m[key].([]any)
	var out []string
	for _, v := range arr {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func strOrNil(m map[string]any, key string) any {
	if s := str(m, key); s != "" {
		return s
	}
	return nil
}

// splitName turns "Family, Given" or "Given Family" into creator name parts.
func splitName(name string) map[string]any {
	name = strings.TrimSpace(name)
	if family, given, ok := strings.Cut(name, ","); ok {
		return map[string]any{
			"creatorFamilyName": strings.TrimSpace(family),
			"creatorGivenName":  strings.TrimSpace(given),
		}
	}
	if i := strings.LastIndex(name, " "); i > 0 {
		return map[string]any{
			"creatorFamilyName": name[i+1:],
			"creatorGivenName":  name[:i],
		}
	}
	return map[string]any{"creatorFamilyName": name}
}

func setStr(d dataset.Dataset, path, value string) {
	if value == "" {
		return
	}
	_ = d.Set(path, value)
}

func setDOI(d dataset.Dataset, doi string) {
	if doi == "" {
		return
	}
	d["pids"] = map[string]any{
		"doi": map[string]any{"identifier": doi, "provider": "external"},
	}
}

func appendAt(d dataset.Dataset, path string, value any) {
	if _, ok := d.Get(path); !ok {
		_ = d.Set(path, []any{})
	}
	_ = d.Append(path, value)
}
