package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetStats/internal/api"
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/query"
	"Go2NetStats/internal/writer"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var configPath, snapshotPath, listenAddr string

	cmd := &cobra.Command{
		Use:          "ns-api",
		Short:        "Serve queries over an exported snapshot",
		Long:         `ns-api loads a gob snapshot (a file, a run directory or the writer root, newest run first) and answers host queries over HTTP.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flag("snapshot").Changed {
				cfg.API.SnapshotPath = snapshotPath
			}
			if cmd.Flag("listen").Changed {
				cfg.API.ListenAddr = listenAddr
			}
			logging.Setup(cfg.Logging.Level)
			defer logging.Sync()

			return serve(cmd.Context(), cfg.API)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Override the configured snapshot path")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Override the configured listen address")
	return cmd
}

func serve(ctx context.Context, cfg config.APIConfig) error {
	log := logging.WithComponent("ns-api")

	snap, err := writer.ReadSnapshot(cfg.SnapshotPath)
	if err != nil {
		return err
	}
	querier, err := query.NewSnapshotQuerier(snap)
	if err != nil {
		return err
	}
	if snap.Partial {
		log.Warnf("Serving a partial snapshot created at %s", snap.CreatedAt.Format(time.RFC3339))
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(api.NewAPIHandler(querier, nil)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("API server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("API server exited.")
	return nil
}
