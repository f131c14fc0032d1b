package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

// newRecordCmd creates the 'record' subcommand, which re-syncs one record.
// Useful after editing that record's rules, or to repair a single failure
// without running a full job.
func newRecordCmd() *cobra.Command {
	var (
		repository string
		sourceURL  string
		registryID string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Re-syncs a single record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if registryID != "" {
				return a.Harvester.SyncByRegistryID(cmd.Context(), registryID)
			}
			if repository == "" || sourceURL == "" {
				return errors.New("either --registry-id or both --repository and --url are required")
			}
			return a.Harvester.SyncRecord(cmd.Context(), repository, sourceURL)
		},
	}

	cmd.Flags().StringVar(&repository, "repository", "", "repository the record belongs to")
	cmd.Flags().StringVar(&sourceURL, "url", "", "source URL of the record")
	cmd.Flags().StringVar(&registryID, "registry-id", "", "registry ID of the record")
	return cmd
}
