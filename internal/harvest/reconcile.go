package harvest

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/elter-ri/dar-harvester/internal/store"
)

// ReconcileReport describes the drift between the registry and the local
// store for one repository.
type ReconcileReport struct {
	Repository   string   `json:"repository"`
	RegistryOnly []string `json:"registry_only"`
	LocalOnly    []string `json:"local_only"`
	Deleted      []string `json:"deleted"`
}

// Reconcile diffs the registry entries attributed to the repository against
// the local store and reports extras on both sides. Registry entries with no
// local row are deleted only when deleteExtras is set; local rows with no
// registry entry are reported and left for the next sync job to repair.
func (h *Harvester) Reconcile(ctx context.Context, repository string, deleteExtras bool) (*ReconcileReport, error) {
	c, ok := h.caps[repository]
	if !ok {
		return nil, fmt.Errorf("unknown repository %q", repository)
	}
	if c.cfg.RegistryQuery == "" {
		return nil, fmt.Errorf("repository %q has no registry query configured", repository)
	}
	log := h.log.With(zap.String("repository", repository))

	remote, err := h.reg.ListIDs(ctx, c.cfg.RegistryQuery)
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile: %w", err)
	}
	st := store.New(tx)

	local, err := st.Records.ListRegistryIDs(ctx, repository)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	report := &ReconcileReport{Repository: repository}
	localSet := make(map[string]bool, len(local))
	for _, id := range local {
		localSet[id] = true
	}
	remoteSet := make(map[string]bool, len(remote))
	for _, id := range remote {
		remoteSet[id] = true
		if !localSet[id] {
			report.RegistryOnly = append(report.RegistryOnly, id)
		}
	}
	for _, id := range local {
		if !remoteSet[id] {
			report.LocalOnly = append(report.LocalOnly, id)
		}
	}
	sort.Strings(report.RegistryOnly)
	sort.Strings(report.LocalOnly)

	if deleteExtras {
		for _, id := range report.RegistryOnly {
			if err := h.reg.Delete(ctx, id); err != nil {
				log.Warn("failed to delete registry extra",
					zap.String("registry_id", id), zap.Error(err))
				continue
			}
			if err := st.Rules.DeleteForRecord(ctx, id); err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			report.Deleted = append(report.Deleted, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	log.Info("reconcile finished",
		zap.Int("registry_only", len(report.RegistryOnly)),
		zap.Int("local_only", len(report.LocalOnly)),
		zap.Int("deleted", len(report.Deleted)))
	return report, nil
}
