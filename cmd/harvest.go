package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newHarvestCmd creates the 'harvest' subcommand, which runs full
// synchronization jobs from the command line.
func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest [repository...]",
		Short: "Runs synchronization jobs for the named repositories",
		Long: `Runs a full synchronization job for each named repository, or for every
configured repository when none are named. Jobs run sequentially; each job
is atomic and failed jobs leave the local store untouched.`,
		RunE: runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	repos := args
	if len(repos) == 0 {
		repos = a.Harvester.Repositories()
		sort.Strings(repos)
	}

	var failed int
	for _, repo := range repos {
		if err := a.Harvester.SyncRepository(cmd.Context(), repo); err != nil {
			a.Log.Error("repository sync failed", zap.String("repository", repo), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d repository jobs failed", failed, len(repos))
	}
	return nil
}
