package harvest

import (
	"context"

	"go.uber.org/zap"

	"github.com/elter-ri/dar-harvester/internal/dataset"
)

// versionChain is the outcome of following a record's "all versions" link.
// latest is the version the job should sync; older and newer hold the source
// URLs of its siblings.
type versionChain struct {
	latest SourceRecord
	older  []string
	newer  []string
}

// resolveVersions follows the vendor's version listing for rec. When the
// fetched record is not the newest version, the newest one is fetched in
// full and becomes the record to sync. Repositories without version support
// return rec unchanged.
func resolveVersions(ctx context.Context, c capability, rec SourceRecord, log *zap.Logger) (versionChain, error) {
	chain := versionChain{latest: rec}
	if c.cfg.AllVersionsKey == "" {
		return chain, nil
	}
	linkVal, ok := dataset.Dataset(rec.Raw).Get(c.cfg.AllVersionsKey)
	link, isStr := linkVal.(string)
	if !ok || !isStr || link == "" {
		return chain, nil
	}

	entries, err := c.source.ListURL(ctx, link)
	if err != nil {
		return chain, err
	}
	if len(entries) < 2 {
		return chain, nil
	}

	latestIdx := len(entries) - 1
	if c.cfg.LatestFlagKey != "" {
		for i, e := range entries {
			if flag, ok := dataset.Dataset(e.Raw).Get(c.cfg.LatestFlagKey); ok {
				if b, isBool := flag.(bool); isBool && b {
					latestIdx = i
					break
				}
			}
		}
	}

	for i, e := range entries {
		switch {
		case i < latestIdx:
			chain.older = append(chain.older, e.URL)
		case i > latestIdx:
			chain.newer = append(chain.newer, e.URL)
		}
	}

	latest := entries[latestIdx]
	if latest.URL == rec.URL {
		return chain, nil
	}

	// Listing entries can be abbreviated, so the latest version is fetched
	// in full before it replaces the originally requested record.
	log.Info("record superseded by newer version",
		zap.String("requested", rec.URL),
		zap.String("latest", latest.URL))
	full, err := c.source.Fetch(ctx, latest.URL)
	if err != nil {
		return chain, err
	}
	chain.latest = *full
	return chain, nil
}

// relateVersions records the version relations on the canonical dataset:
// the synced version is a new version of every older sibling and a previous
// version of every newer one.
func relateVersions(d dataset.Dataset, chain versionChain) {
	for _, u := range chain.older {
		d.AddRelatedIdentifier(dataset.RelationIsNewVersionOf, u)
	}
	for _, u := range chain.newer {
		d.AddRelatedIdentifier(dataset.RelationIsPreviousVersionOf, u)
	}
}
