// Package harvest orchestrates synchronization jobs between source
// repositories, the local record store, and the DAR registry.
package harvest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/elter-ri/dar-harvester/internal/checksum"
	"github.com/elter-ri/dar-harvester/internal/config"
	"github.com/elter-ri/dar-harvester/internal/dataset"
	"github.com/elter-ri/dar-harvester/internal/mapper"
	"github.com/elter-ri/dar-harvester/internal/metrics"
	"github.com/elter-ri/dar-harvester/internal/ratelimit"
	"github.com/elter-ri/dar-harvester/internal/rules"
	"github.com/elter-ri/dar-harvester/internal/store"
)

// RegistryAPI is the slice of the registry client the harvester needs.
type RegistryAPI interface {
	FindBySourceURI(ctx context.Context, uri string) (string, error)
	Create(ctx context.Context, d dataset.Dataset) (string, error)
	Update(ctx context.Context, id string, d dataset.Dataset) error
	Delete(ctx context.Context, id string) error
	ListIDs(ctx context.Context, queryURL string) ([]string, error)
}

// capability bundles everything needed to sync one repository: its config,
// its rate-limited source, and the mapper and site matcher for its type.
type capability struct {
	name   string
	cfg    config.RepositoryConfig
	source Source
	mapFn  mapper.Func
	match  mapper.Matcher
}

// Harvester runs repository synchronization jobs. A job is one transaction:
// every local row re-verified, new records discovered, long-unseen rows
// retired, then committed as a unit.
type Harvester struct {
	db     store.TxBeginner
	reg    RegistryAPI
	engine *rules.Engine
	caps   map[string]capability
	cfg    config.HarvestConfig
	log    *zap.Logger
	now    func() time.Time
}

// New builds a Harvester. Every configured repository must have a matching
// entry in sources.
func New(db store.TxBeginner, reg RegistryAPI, engine *rules.Engine,
	repos map[string]config.RepositoryConfig, sources map[string]Source,
	cfg config.HarvestConfig, log *zap.Logger) (*Harvester, error) {

	caps := make(map[string]capability, len(repos))
	for name, rc := range repos {
		mapFn, match, err := mapper.ForType(rc.Type)
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", name, err)
		}
		src, ok := sources[name]
		if !ok {
			return nil, fmt.Errorf("repository %s has no source", name)
		}
		caps[name] = capability{name: name, cfg: rc, source: src, mapFn: mapFn, match: match}
	}
	return &Harvester{
		db:     db,
		reg:    reg,
		engine: engine,
		caps:   caps,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}, nil
}

// BuildSources constructs the HTTP source for every configured repository,
// each behind its own rate limiter.
func BuildSources(repos map[string]config.RepositoryConfig, client *http.Client, log *zap.Logger) map[string]Source {
	out := make(map[string]Source, len(repos))
	for name, rc := range repos {
		limiter := ratelimit.PerMinute(name, rc.RequestsPerMinute)
		out[name] = NewSource(rc, client, limiter, log.Named(name))
	}
	return out
}

// Repositories lists the configured repository names.
func (h *Harvester) Repositories() []string {
	names := make([]string, 0, len(h.caps))
	for name := range h.caps {
		names = append(names, name)
	}
	return names
}

// SyncRepository runs one full synchronization job for the repository. The
// whole job rides a single transaction; any orchestration failure rolls the
// job back and leaves the local store untouched. Per-record failures do not
// fail the job.
func (h *Harvester) SyncRepository(ctx context.Context, repository string) error {
	c, ok := h.caps[repository]
	if !ok {
		return fmt.Errorf("unknown repository %q", repository)
	}
	log := h.log.With(zap.String("repository", repository))
	log.Info("starting synchronization job")

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin job: %w", err)
	}
	if err := h.runJob(ctx, store.New(tx), c, log); err != nil {
		_ = tx.Rollback(ctx)
		metrics.CountJob(repository, "rolled_back")
		log.Error("synchronization job rolled back", zap.Error(err))
		return fmt.Errorf("sync %s: %w", repository, err)
	}
	if err := tx.Commit(ctx); err != nil {
		metrics.CountJob(repository, "rolled_back")
		return fmt.Errorf("commit job for %s: %w", repository, err)
	}
	metrics.CountJob(repository, "committed")
	log.Info("synchronization job committed")
	return nil
}

func (h *Harvester) runJob(ctx context.Context, st *store.Stores, c capability, log *zap.Logger) error {
	if err := st.Records.MarkRepositoryInProgress(ctx, c.name); err != nil {
		return err
	}

	seen := &seenSet{urls: map[string]bool{}}

	// Validation: re-verify every record already tracked locally.
	local, err := st.Records.ListByRepository(ctx, c.name)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range local {
		url := rec.SourceURL
		if !seen.claim(url) {
			continue
		}
		g.Go(func() error {
			return h.processRecord(gctx, st, c, url, log)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Discovery: walk the repository for records not yet seen in this job.
	if c.cfg.Type == config.TypeSites {
		if err := h.discoverSitemap(ctx, st, c, seen, log); err != nil {
			return err
		}
	} else {
		if err := h.discoverPages(ctx, st, c, seen, log); err != nil {
			return err
		}
	}

	// Cleanup: retire rows the repository has not surfaced for the
	// configured window, together with their registry entries. Curated rows
	// are excluded by DeleteUnseen, so no rules go with them.
	cutoff := h.now().AddDate(0, 0, -h.cfg.CleanupAfterDays)
	retired, err := st.Records.DeleteUnseen(ctx, c.name, cutoff)
	if err != nil {
		return err
	}
	for _, id := range retired {
		if err := h.reg.Delete(ctx, id); err != nil {
			log.Warn("failed to delete retired registry entry",
				zap.String("registry_id", id), zap.Error(err))
			continue
		}
		log.Info("retired registry entry", zap.String("registry_id", id))
	}
	return nil
}

func (h *Harvester) discoverPages(ctx context.Context, st *store.Stores, c capability, seen *seenSet, log *zap.Logger) error {
	for page := 1; ; page++ {
		entries, err := c.source.ListPage(ctx, page)
		if err != nil {
			return fmt.Errorf("list page %d: %w", page, err)
		}
		if len(entries) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, e := range entries {
			url := e.URL
			if !seen.claim(url) {
				continue
			}
			g.Go(func() error {
				return h.processRecord(gctx, st, c, url, log)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if c.cfg.PageSize > 0 && len(entries) < c.cfg.PageSize {
			return nil
		}
	}
}

// discoverSitemap sweeps the repository sitemap. The sweep is best effort;
// individual failures are logged and do not fail the job.
func (h *Harvester) discoverSitemap(ctx context.Context, st *store.Stores, c capability, seen *seenSet, log *zap.Logger) error {
	urls, err := c.source.ListSitemap(ctx)
	if err != nil {
		return fmt.Errorf("list sitemap: %w", err)
	}

	var wg sync.WaitGroup
	for _, u := range urls {
		if !seen.claim(u) {
			continue
		}
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if err := h.processRecord(ctx, st, c, u, log); err != nil {
				log.Warn("sitemap record sync failed", zap.String("url", u), zap.Error(err))
			}
		}(u)
	}
	wg.Wait()
	return nil
}

// SyncRecord re-syncs one record in its own short transaction, used for
// manual triggers and after rule edits.
func (h *Harvester) SyncRecord(ctx context.Context, repository, sourceURL string) error {
	c, ok := h.caps[repository]
	if !ok {
		return fmt.Errorf("unknown repository %q", repository)
	}
	log := h.log.With(zap.String("repository", repository), zap.String("url", sourceURL))

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record sync: %w", err)
	}
	if err := h.processRecord(ctx, store.New(tx), c, sourceURL, log); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("sync record %s: %w", sourceURL, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record sync: %w", err)
	}
	return nil
}

// SyncByRegistryID re-syncs the record that owns a registry entry. Used
// after curators edit the entry's rules.
func (h *Harvester) SyncByRegistryID(ctx context.Context, registryID string) error {
	tx, err := h.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record sync: %w", err)
	}
	st := store.New(tx)

	rec, err := st.Records.GetByRegistryID(ctx, registryID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if rec == nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("no local record for registry id %s", registryID)
	}
	c, ok := h.caps[rec.SourceRepository]
	if !ok {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("record %s belongs to unknown repository %q", rec.SourceURL, rec.SourceRepository)
	}
	log := h.log.With(zap.String("repository", c.name), zap.String("url", rec.SourceURL))

	if err := h.processRecord(ctx, st, c, rec.SourceURL, log); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("sync record %s: %w", rec.SourceURL, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record sync: %w", err)
	}
	return nil
}

// processRecord is the per-record task. Transient failures (fetch, mapping,
// registry I/O) mark the row failed and return nil; only store failures
// propagate and fail the job.
func (h *Harvester) processRecord(ctx context.Context, st *store.Stores, c capability, sourceURL string, log *zap.Logger) error {
	start := time.Now()
	defer func() { metrics.ObserveRecordTask(c.name, time.Since(start)) }()

	existing, err := st.Records.GetBySourceURL(ctx, sourceURL)
	if err != nil {
		return err
	}

	src, err := c.source.Fetch(ctx, sourceURL)
	if err != nil {
		return h.softFail(ctx, st, c, existing, "fetch", err, log)
	}

	sourceSum, err := checksum.Of(src.Raw)
	if err != nil {
		return h.softFail(ctx, st, c, existing, "checksum", err, log)
	}

	// Cheap skip: upstream unchanged and no overrides waiting to run. Rows
	// whose last attempt failed are never skipped; the failed registry write
	// must be retried even when the source payload did not change.
	if existing != nil && existing.RegistryID != "" &&
		existing.SourceChecksum == sourceSum && existing.Status != store.StatusFailed {
		n, err := st.Rules.CountForRecord(ctx, existing.RegistryID)
		if err != nil {
			return err
		}
		if n == 0 {
			if err := st.Records.Touch(ctx, sourceURL); err != nil {
				return err
			}
			metrics.CountRecord(c.name, "skipped")
			return nil
		}
	}

	chain, err := resolveVersions(ctx, c, *src, log)
	if err != nil {
		return h.softFail(ctx, st, c, existing, "versions", err, log)
	}
	raw := chain.latest.Raw
	effURL := chain.latest.URL
	if effURL != sourceURL {
		if sourceSum, err = checksum.Of(raw); err != nil {
			return h.softFail(ctx, st, c, existing, "checksum", err, log)
		}
		existing, err = h.adoptLatestRow(ctx, st, existing, sourceURL, effURL)
		if err != nil {
			return err
		}
	}

	d, err := c.mapFn(c.name, effURL, raw)
	if err != nil {
		return h.softFail(ctx, st, c, existing, "map", err, log)
	}
	mapper.AttachSites(d, c.match(raw))
	relateVersions(d, chain)

	registryID := ""
	if existing != nil {
		registryID = existing.RegistryID
	}
	if registryID == "" {
		registryID, err = h.reg.FindBySourceURI(ctx, d.SourceURI())
		if err != nil {
			return h.softFail(ctx, st, c, existing, "registry search", err, log)
		}
	}

	if registryID != "" {
		overrides, err := st.Rules.ListForRecord(ctx, registryID)
		if err != nil {
			return err
		}
		for _, r := range overrides {
			switch h.engine.Apply(d, r) {
			case rules.OutcomeStale, rules.OutcomeConverged:
				if err := st.Rules.Delete(ctx, registryID, r.ID); err != nil {
					return err
				}
			}
		}
	}

	registrySum, err := checksum.Of(d)
	if err != nil {
		return h.softFail(ctx, st, c, existing, "checksum", err, log)
	}

	outcome := "unchanged"
	switch {
	case registryID == "":
		registryID, err = h.reg.Create(ctx, d)
		if err != nil {
			return h.softFail(ctx, st, c, existing, "registry create", err, log)
		}
		outcome = "created"
	case existing == nil || existing.RegistryChecksum != registrySum:
		if err := h.reg.Update(ctx, registryID, d); err != nil {
			return h.softFail(ctx, st, c, existing, "registry update", err, log)
		}
		outcome = "updated"
	}

	row := &store.Record{
		SourceURL:        effURL,
		SourceRepository: c.name,
		SourceChecksum:   sourceSum,
		RegistryID:       registryID,
		RegistryChecksum: registrySum,
		Status:           store.StatusSuccess,
		Title:            d.Title(),
	}
	if existing == nil {
		err = st.Records.Create(ctx, row)
	} else {
		err = st.Records.Update(ctx, row)
	}
	if err != nil {
		return err
	}
	metrics.CountRecord(c.name, outcome)
	return nil
}

// adoptLatestRow reconciles the local row when a newer version supersedes
// the fetched URL. An existing row under the latest URL wins; otherwise the
// old row moves to the latest URL keeping its registry entry. The superseded
// row never survives alongside the latest one: left behind it would age out
// and take the shared registry entry with it.
func (h *Harvester) adoptLatestRow(ctx context.Context, st *store.Stores, existing *store.Record, oldURL, latestURL string) (*store.Record, error) {
	latestRow, err := st.Records.GetBySourceURL(ctx, latestURL)
	if err != nil {
		return nil, err
	}
	if latestRow != nil {
		if existing != nil {
			if err := st.Records.Delete(ctx, oldURL); err != nil {
				return nil, err
			}
		}
		return latestRow, nil
	}
	if existing == nil {
		return nil, nil
	}
	moved := *existing
	moved.SourceURL = latestURL
	if err := st.Records.RewriteSourceURL(ctx, oldURL, &moved); err != nil {
		return nil, err
	}
	return &moved, nil
}

func (h *Harvester) softFail(ctx context.Context, st *store.Stores, c capability, existing *store.Record, stage string, cause error, log *zap.Logger) error {
	log.Warn("record sync failed", zap.String("stage", stage), zap.Error(cause))
	metrics.CountRecord(c.name, "failed")
	if existing != nil {
		if err := st.Records.UpdateStatus(ctx, existing.SourceURL, store.StatusFailed); err != nil {
			return err
		}
	}
	return nil
}

// seenSet tracks which source URLs the current job has already claimed, so
// validation and discovery never process the same record twice.
type seenSet struct {
	mu   sync.Mutex
	urls map[string]bool
}

func (s *seenSet) claim(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.urls[url] {
		return false
	}
	s.urls[url] = true
	return true
}
