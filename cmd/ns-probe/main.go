package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"
	"Go2NetStats/internal/probe"
	"Go2NetStats/pkg/capture"
	"Go2NetStats/pkg/pcap"

	"github.com/spf13/cobra"
)

const defaultSnaplen = 65535

type options struct {
	configPath string
	file       string
	iface      string
	bpfFilter  string
	snaplen    int32
	promisc    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "ns-probe",
		Short:        "Publish normalized packet records to NATS",
		Long:         `ns-probe decodes packets from a capture file or a live interface and publishes them to the configured NATS subject for ns-engine.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.file == "") == (opts.iface == "") {
				return errors.New("exactly one of --file or --iface is required")
			}
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if !cmd.Flag("bpf").Changed {
				opts.bpfFilter = cfg.Engine.BPFFilter
			}
			logging.Setup(cfg.Logging.Level)
			defer logging.Sync()

			return run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Capture file to replay")
	cmd.Flags().StringVarP(&opts.iface, "iface", "i", "", "Interface to capture packets from")
	cmd.Flags().StringVar(&opts.bpfFilter, "bpf", "", "BPF filter (requires libpcap)")
	cmd.Flags().Int32Var(&opts.snaplen, "snaplen", defaultSnaplen, "Snapshot length for live capture")
	cmd.Flags().BoolVar(&opts.promisc, "promisc", true, "Put the interface into promiscuous mode")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	log := logging.WithComponent("ns-probe")

	src, closeSource, err := openSource(opts)
	if err != nil {
		return err
	}
	defer closeSource()

	pub, err := probe.NewPublisher(cfg.Probe)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Errorf("Failed to close publisher: %v", err)
		}
	}()

	log.Infof("Publishing packets from '%s' to '%s'", src.Name(), cfg.Probe.Subject)
	runErr := src.Run(ctx, pub)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if runErr != nil {
		log.Warn("Capture interrupted; closing the stream early.")
	}

	// The engine reports once it sees the end-of-stream marker.
	if err := pub.Finish(); err != nil {
		return err
	}
	published, parseErrors, skipped := pub.Stats()
	log.Infof("Published %d records (%d parse errors, %d skipped)", published, parseErrors, skipped)
	return pub.Err()
}

func openSource(opts options) (model.Source, func(), error) {
	switch {
	case opts.iface != "":
		h, err := capture.OpenLive(opts.iface, opts.snaplen, opts.promisc, opts.bpfFilter)
		if err != nil {
			return nil, nil, err
		}
		return h, h.Close, nil
	case opts.bpfFilter != "":
		h, err := capture.OpenOffline(opts.file, opts.bpfFilter)
		if err != nil {
			return nil, nil, err
		}
		return h, h.Close, nil
	default:
		r, err := pcap.NewReader(opts.file)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	}
}
