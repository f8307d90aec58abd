package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/engine/aggregator"
	"Go2NetStats/internal/engine/summary"
	"Go2NetStats/internal/export"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const progressInterval = 5 * time.Second

// Result is the outcome of one processing run.
type Result struct {
	Aggregate *aggregator.Aggregator
	Summary   model.GlobalSummary
	Snapshot  *model.Snapshot
}

// Partial reports whether the run stopped before every source was exhausted.
func (r *Result) Partial() bool {
	return r.Snapshot != nil && r.Snapshot.Partial
}

// ExportError is returned when at least one writer failed. It carries the
// partial tag of the state that was being written.
type ExportError struct {
	Partial bool
	Err     error
}

func (e *ExportError) Error() string {
	state := "complete"
	if e.Partial {
		state = "partial"
	}
	return fmt.Sprintf("failed to export %s snapshot: %v", state, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Manager runs sources through per-shard aggregators, merges them and hands
// the resulting snapshot to every writer.
type Manager struct {
	writers    []model.Writer
	interval   time.Duration
	numWorkers int
	pinOrigin  bool
	tieBreak   aggregator.TieBreak

	observed atomic.Uint64
}

// NewManager creates a new Manager.
func NewManager(cfg *config.Config, writers []model.Writer) (*Manager, error) {
	interval := cfg.Engine.Interval()
	if interval < time.Microsecond {
		return nil, fmt.Errorf("invalid interval width %q", cfg.Engine.IntervalWidth)
	}
	tieBreak, err := aggregator.ParseTieBreak(cfg.Engine.MACTieBreak)
	if err != nil {
		return nil, err
	}
	numWorkers := cfg.Engine.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Manager{
		writers:    writers,
		interval:   interval,
		numWorkers: numWorkers,
		pinOrigin:  cfg.Engine.PinOrigin(),
		tieBreak:   tieBreak,
	}, nil
}

// Observed returns the number of records observed so far across all shards.
func (m *Manager) Observed() uint64 {
	return m.observed.Load()
}

// Run aggregates every source as its own shard, at most numWorkers at a
// time. When ctx is cancelled the shards stop, and the merged state is still
// exported, tagged partial. A source failing for any other reason aborts the
// run without exporting.
func (m *Manager) Run(ctx context.Context, sources []model.Source) (*Result, error) {
	log := logging.WithComponent("manager")
	if len(sources) == 0 {
		return nil, errors.New("no sources to process")
	}

	opts := aggregator.Options{IntervalWidth: m.interval}
	if m.pinOrigin {
		origin, from, err := firstOrigin(sources)
		if err != nil {
			return nil, err
		}
		if from != nil {
			opts.Origin, opts.PinOrigin = origin, true
			log.Infof("Interval origin pinned at %d from '%s'", origin, from.Name())
		}
	}

	shards := make([]*aggregator.Aggregator, len(sources))
	for i := range shards {
		shards[i] = aggregator.New(opts)
	}

	stopProgress := m.reportProgress(log)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.numWorkers)
	for i, src := range sources {
		agg := shards[i]
		g.Go(func() error {
			log.Infof("Processing source '%s'", src.Name())
			err := src.Run(gctx, &countingObserver{Observer: agg, count: &m.observed})
			switch {
			case err == nil:
				log.Infof("Finished source '%s'", src.Name())
				return nil
			case ctx.Err() != nil && errors.Is(err, ctx.Err()):
				log.Warnf("Source '%s' stopped early: %v", src.Name(), err)
				agg.MarkPartial()
				return nil
			case errors.Is(err, model.ErrIncomplete):
				log.Warnf("Source '%s' lost records: %v", src.Name(), err)
				agg.MarkPartial()
				return nil
			default:
				return fmt.Errorf("source '%s' failed: %w", src.Name(), err)
			}
		})
	}
	err := g.Wait()
	stopProgress()
	if err != nil {
		return nil, err
	}

	merged, err := aggregator.Merge(aggregator.MergeOptions{MACTieBreak: m.tieBreak}, shards...)
	if err != nil {
		return nil, fmt.Errorf("failed to merge shards: %w", err)
	}

	sum := summary.Compute(merged)
	snap := export.Build(merged, sum, export.SchemaVersion)
	res := &Result{Aggregate: merged, Summary: sum, Snapshot: snap}
	if snap.Partial {
		log.Warnf("Run incomplete; exporting partial snapshot of %d packets", sum.PacketCount)
	} else {
		log.Infof("Aggregated %d packets from %d hosts (%d parse errors, %d skipped)",
			sum.PacketCount, sum.HostCount, sum.ParseErrors, sum.SkippedPackets)
	}

	// Writers still run when the run itself was cancelled.
	if err := m.write(context.WithoutCancel(ctx), snap); err != nil {
		return res, &ExportError{Partial: snap.Partial, Err: err}
	}
	return res, nil
}

// firstOrigin returns the first timestamp of the earliest source, in
// argument order, that has a decodable packet. Sources that cannot report
// one are skipped.
func firstOrigin(sources []model.Source) (int64, model.Source, error) {
	for _, src := range sources {
		op, ok := src.(model.OriginProvider)
		if !ok {
			continue
		}
		origin, found, err := op.FirstTimestamp()
		if err != nil {
			return 0, nil, fmt.Errorf("failed to determine interval origin from '%s': %w", src.Name(), err)
		}
		if found {
			return origin, src, nil
		}
	}
	return 0, nil, nil
}

func (m *Manager) write(ctx context.Context, snap *model.Snapshot) error {
	var result *multierror.Error
	for _, w := range m.writers {
		if err := w.Write(ctx, snap); err != nil {
			result = multierror.Append(result, fmt.Errorf("writer '%s': %w", w.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// Close closes every writer.
func (m *Manager) Close() error {
	var result *multierror.Error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close writer '%s': %w", w.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

func (m *Manager) reportProgress(log *zap.SugaredLogger) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.Infof("Observed %d packets so far", m.observed.Load())
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// countingObserver feeds an aggregator and counts observed records.
type countingObserver struct {
	model.Observer
	count *atomic.Uint64
}

func (o *countingObserver) Observe(rec *model.PacketRecord) {
	o.Observer.Observe(rec)
	o.count.Inc()
}
