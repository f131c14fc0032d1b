package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/elter-ri/dar-harvester/internal/api"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API used
// to trigger jobs and manage curator rules.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the harvester HTTP API",
		RunE:  runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	srv := api.NewServer(a.Harvester, a.Stores, a.Cfg, a.Log.Named("api"))
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("http server listening", zap.String("addr", httpSrv.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
