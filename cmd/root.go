// Package cmd defines and implements the CLI commands for the dar-harvester
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/elter-ri/dar-harvester/internal/app"
	"github.com/elter-ri/dar-harvester/internal/logging"
)

var cfgFile string

type appKey struct{}

// newRootCmd creates and configures the root command. Application services
// are built once in PersistentPreRunE and injected into the command context
// for subcommands to use.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dar-harvester",
		Short: "Synchronizes research-dataset metadata into the DAR registry.",
		Long: `dar-harvester harvests dataset metadata from heterogeneous research
repositories, normalizes it to the DAR common structure, and keeps the
remote registry and the local record store consistent. Curator overrides
are stored as durable field-level rules that survive re-harvesting.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey{}).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newRecordCmd())
	cmd.AddCommand(newReconcileCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey{}).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logging.L.Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
