package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/engine/manager"
	"Go2NetStats/internal/factory"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"
	"Go2NetStats/internal/probe"
	_ "Go2NetStats/internal/writer"

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
	var configPath, subject string

	cmd := &cobra.Command{
		Use:          "ns-engine",
		Short:        "Aggregate packet records received over NATS",
		Long:         `ns-engine consumes the records published by ns-probe until the end-of-stream marker and writes the statistics to the configured writers.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flag("subject").Changed {
				cfg.Probe.Subject = subject
			}
			logging.Setup(cfg.Logging.Level)
			defer logging.Sync()

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")
	cmd.Flags().StringVar(&subject, "subject", "", "Override the configured NATS subject")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.WithComponent("ns-engine")

	writers, err := factory.CreateWriters(cfg)
	if err != nil {
		return err
	}
	mgr, err := manager.NewManager(cfg, writers)
	if err != nil {
		for _, w := range writers {
			w.Close()
		}
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Errorf("Failed to close writers: %v", err)
		}
	}()

	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		return err
	}
	defer sub.Close()

	res, err := mgr.Run(ctx, []model.Source{sub})
	var exportErr *manager.ExportError
	if err != nil && !errors.As(err, &exportErr) {
		return err
	}
	s := res.Summary
	log.Infof("Run finished: %d packets, %d bytes, %d hosts, %d parse errors, partial=%t",
		s.PacketCount, s.ByteCount, s.HostCount, s.ParseErrors, s.Partial)
	if exportErr != nil {
		return exportErr
	}
	return nil
}
