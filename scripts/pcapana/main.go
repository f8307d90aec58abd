package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"Go2NetStats/internal/model"
	"Go2NetStats/pkg/pcap"
)

var errLimit = errors.New("limit reached")

// printer prints the first limit records it observes.
type printer struct {
	limit       int
	printed     int
	parseErrors int
	skipped     int
	cancel      context.CancelCauseFunc
}

func (p *printer) Observe(rec *model.PacketRecord) {
	if p.printed >= p.limit {
		return
	}
	p.printed++
	opt := ""
	if rec.HasMSS {
		opt += fmt.Sprintf(" mss=%d", rec.MSS)
	}
	if rec.HasWindow {
		opt += fmt.Sprintf(" win=%d", rec.Window)
	}
	fmt.Printf("[%s] %s:%d -> %s:%d proto=%d len=%d ttl=%d tos=%d%s\n",
		time.UnixMicro(rec.Timestamp).UTC().Format("15:04:05.000000"),
		rec.SrcIP, rec.SrcPort, rec.DstIP, rec.DstPort,
		rec.Protocol, rec.Length, rec.TTL, rec.ToS, opt,
	)
	if p.printed == p.limit {
		p.cancel(errLimit)
	}
}

func (p *printer) RecordParseError() { p.parseErrors++ }
func (p *printer) RecordSkipped()    { p.skipped++ }

func main() {
	limit := flag.Int("n", 5, "Number of packets to print")
	flag.Parse()
	if flag.NArg() < 1 || *limit < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana [-n count] <path_to_pcap_file>")
		os.Exit(1)
	}

	r, err := pcap.NewReader(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer r.Close()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	p := &printer{limit: *limit, cancel: cancel}

	if err := r.Run(ctx, p); err != nil && !errors.Is(context.Cause(ctx), errLimit) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("link=%s parse_errors=%d skipped=%d\n", r.LinkType(), p.parseErrors, p.skipped)
}
