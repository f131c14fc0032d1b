package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newReconcileCmd creates the 'reconcile' subcommand, which diffs registry
// entries against the local store and optionally deletes registry extras.
func newReconcileCmd() *cobra.Command {
	var deleteExtras bool

	cmd := &cobra.Command{
		Use:   "reconcile [repository...]",
		Short: "Diffs registry entries against the local store",
		Long: `Lists the registry entries attributed to each repository and compares
them with the locally tracked records. Drift is reported on stdout as JSON.
Registry entries with no local record are deleted only with --delete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			repos := args
			if len(repos) == 0 {
				repos = a.Harvester.Repositories()
				sort.Strings(repos)
			}
			deleteExtras = deleteExtras || a.Cfg.Harvest.ReconcileDelete

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			var failed int
			for _, repo := range repos {
				report, err := a.Harvester.Reconcile(cmd.Context(), repo, deleteExtras)
				if err != nil {
					a.Log.Error("reconcile failed", zap.String("repository", repo), zap.Error(err))
					failed++
					continue
				}
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d repositories failed to reconcile", failed, len(repos))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteExtras, "delete", false, "delete registry entries with no local record")
	return cmd
}
