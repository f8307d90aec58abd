package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/engine/manager"
	"Go2NetStats/internal/factory"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"
	_ "Go2NetStats/internal/writer"
	"Go2NetStats/pkg/capture"
	"Go2NetStats/pkg/pcap"

	"github.com/hashicorp/go-multierror"
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
	var configPath, bpfFilter, logLevel string

	cmd := &cobra.Command{
		Use:          "pcap-analyzer [flags] <capture-file>...",
		Short:        "Aggregate packet statistics from capture files",
		Long:         `pcap-analyzer reads pcap/pcapng files, one shard per file, and writes the merged statistics to the configured writers.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flag("log-level").Changed {
				cfg.Logging.Level = logLevel
			}
			if cmd.Flag("bpf").Changed {
				cfg.Engine.BPFFilter = bpfFilter
			}
			logging.Setup(cfg.Logging.Level)
			defer logging.Sync()

			return run(cmd.Context(), cmd.OutOrStdout(), cfg, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")
	cmd.Flags().StringVar(&bpfFilter, "bpf", "", "BPF filter applied while reading (requires libpcap)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func run(ctx context.Context, out io.Writer, cfg *config.Config, files []string) error {
	log := logging.WithComponent("pcap-analyzer")

	writers, err := factory.CreateWriters(cfg)
	if err != nil {
		return err
	}
	mgr, err := manager.NewManager(cfg, writers)
	if err != nil {
		return multierror.Append(err, closeWriters(writers)).ErrorOrNil()
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Errorf("Failed to close writers: %v", err)
		}
	}()

	sources, closeSources, err := openSources(files, cfg.Engine.BPFFilter)
	if err != nil {
		return err
	}
	defer closeSources()
	log.Infof("Processing %d capture file(s) with %d writer(s)", len(sources), len(writers))

	res, err := mgr.Run(ctx, sources)
	var exportErr *manager.ExportError
	if err != nil && !errors.As(err, &exportErr) {
		return err
	}
	printReport(out, res)
	if exportErr != nil {
		log.Errorf("Export failed: %v", exportErr)
		return exportErr
	}
	if res.Partial() {
		return errors.New("processing interrupted; the exported snapshot is partial")
	}
	return nil
}

// originSource pairs a libpcap handle with a pure-Go reader of the same file
// that reports the interval origin.
type originSource struct {
	model.Source
	model.OriginProvider
}

func openSources(files []string, filter string) ([]model.Source, func(), error) {
	var sources []model.Source
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, path := range files {
		reader, err := pcap.NewReader(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { reader.Close() })
		if filter == "" {
			sources = append(sources, reader)
			continue
		}

		handle, err := capture.OpenOffline(path, filter)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, handle.Close)
		sources = append(sources, originSource{Source: handle, OriginProvider: reader})
	}
	return sources, closeAll, nil
}

func closeWriters(writers []model.Writer) error {
	var result *multierror.Error
	for _, w := range writers {
		if err := w.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func printReport(out io.Writer, res *manager.Result) {
	s := res.Summary
	fmt.Fprintf(out, "Packets:            %d\n", s.PacketCount)
	fmt.Fprintf(out, "Bytes:              %d\n", s.ByteCount)
	fmt.Fprintf(out, "Hosts:              %d\n", s.HostCount)
	fmt.Fprintf(out, "Conversations:      %d\n", len(res.Aggregate.Conversations))
	fmt.Fprintf(out, "Parse errors:       %d\n", s.ParseErrors)
	fmt.Fprintf(out, "Skipped packets:    %d\n", s.SkippedPackets)
	fmt.Fprintf(out, "Capture duration:   %.6fs\n", s.CaptureDuration)
	fmt.Fprintf(out, "Avg packet rate:    %.2f pkt/s\n", s.AvgPacketRate)
	fmt.Fprintf(out, "Avg packet size:    %.2f B\n", s.AvgPacketSize)
	fmt.Fprintf(out, "Avg packets/host:   %.2f\n", s.AvgPacketsPerHost)
	fmt.Fprintf(out, "Avg bandwidth in:   %.2f B/s\n", s.AvgBandwidthIn)
	fmt.Fprintf(out, "Avg bandwidth out:  %.2f B/s\n", s.AvgBandwidthOut)
	if s.Partial {
		fmt.Fprintln(out, "Status:             partial")
	}
}
