package manager

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/engine/aggregator"
	"Go2NetStats/internal/model"
	"Go2NetStats/internal/testutil"
	"Go2NetStats/pkg/pcap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryWriter struct {
	mu        sync.Mutex
	snapshots []*model.Snapshot
	ctxErr    error
	fail      error
	closed    bool
}

func (w *memoryWriter) Name() string { return "memory" }

func (w *memoryWriter) Write(ctx context.Context, snap *model.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ctxErr = ctx.Err()
	if w.fail != nil {
		return w.fail
	}
	w.snapshots = append(w.snapshots, snap)
	return nil
}

func (w *memoryWriter) Close() error {
	w.closed = true
	return nil
}

// sliceSource replays records; when block is set it waits for cancellation
// after the records.
type sliceSource struct {
	name    string
	records []*model.PacketRecord
	block   bool
	err     error
}

func (s *sliceSource) Name() string { return s.name }

func (s *sliceSource) Run(ctx context.Context, obs model.Observer) error {
	for _, r := range s.records {
		obs.Observe(r)
	}
	if s.err != nil {
		return s.err
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Engine.NumWorkers = 2
	return &cfg
}

var (
	hostA = netip.MustParseAddr("10.9.0.1")
	hostB = netip.MustParseAddr("10.9.0.2")
)

func rec(ts int64, src, dst netip.Addr, length uint32) *model.PacketRecord {
	return &model.PacketRecord{Timestamp: ts, Length: length, SrcIP: src, DstIP: dst, SrcPort: 1, DstPort: 2, Protocol: 17, TTL: 64}
}

func TestRunMergesShardsAndWrites(t *testing.T) {
	w := &memoryWriter{}
	m, err := NewManager(testConfig(), []model.Writer{w})
	require.NoError(t, err)

	sources := []model.Source{
		&sliceSource{name: "one", records: []*model.PacketRecord{rec(0, hostA, hostB, 100), rec(1_000_000, hostB, hostA, 50)}},
		&sliceSource{name: "two", records: []*model.PacketRecord{rec(2_000_000, hostA, hostB, 150)}},
		&sliceSource{name: "empty"},
	}
	res, err := m.Run(context.Background(), sources)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), res.Summary.PacketCount)
	assert.InDelta(t, 1.5, res.Summary.AvgPacketRate, 1e-9)
	assert.False(t, res.Partial())
	assert.True(t, res.Aggregate.Frozen())
	assert.Equal(t, uint64(3), m.Observed())

	require.Len(t, w.snapshots, 1)
	assert.Same(t, res.Snapshot, w.snapshots[0])

	require.NoError(t, m.Close())
	assert.True(t, w.closed)
}

func TestRunPinsOriginFromFirstFile(t *testing.T) {
	dir := t.TempDir()
	base := time.Unix(1700000000, 0)
	first := filepath.Join(dir, "a.pcap")
	second := filepath.Join(dir, "b.pcap")
	require.NoError(t, testutil.WritePcap(first, []testutil.Packet{
		{Time: base, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1, DstPort: 2, TTL: 64},
		{Time: base.Add(1500 * time.Millisecond), SrcIP: "10.0.0.2", DstIP: "10.0.0.1", SrcPort: 2, DstPort: 1, TTL: 64},
	}))
	// Starts half a bucket off the first file's origin.
	require.NoError(t, testutil.WritePcap(second, []testutil.Packet{
		{Time: base.Add(2500 * time.Millisecond), SrcIP: "10.0.0.3", DstIP: "10.0.0.1", SrcPort: 3, DstPort: 1, TTL: 64},
	}))

	var sources []model.Source
	for _, p := range []string{first, second} {
		r, err := pcap.NewReader(p)
		require.NoError(t, err)
		defer r.Close()
		sources = append(sources, r)
	}

	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)
	res, err := m.Run(context.Background(), sources)
	require.NoError(t, err)

	origin, ok := res.Aggregate.Origin()
	require.True(t, ok)
	assert.Equal(t, base.UnixMicro(), origin)
	assert.Len(t, res.Aggregate.Intervals, 3)
	assert.Equal(t, uint64(1), res.Aggregate.Intervals[2].Packets)
}

func TestRunPinsOriginPastEmptyFirstFile(t *testing.T) {
	dir := t.TempDir()
	base := time.Unix(1700000000, 0)
	empty := filepath.Join(dir, "empty.pcap")
	first := filepath.Join(dir, "a.pcap")
	second := filepath.Join(dir, "b.pcap")
	require.NoError(t, testutil.WritePcap(empty, nil))
	require.NoError(t, testutil.WritePcap(first, []testutil.Packet{
		{Time: base, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1, DstPort: 2, TTL: 64},
	}))
	require.NoError(t, testutil.WritePcap(second, []testutil.Packet{
		{Time: base.Add(300 * time.Millisecond), SrcIP: "10.0.0.2", DstIP: "10.0.0.1", SrcPort: 2, DstPort: 1, TTL: 64},
		{Time: base.Add(1300 * time.Millisecond), SrcIP: "10.0.0.2", DstIP: "10.0.0.1", SrcPort: 2, DstPort: 1, TTL: 64},
	}))

	var sources []model.Source
	for _, p := range []string{empty, first, second} {
		r, err := pcap.NewReader(p)
		require.NoError(t, err)
		defer r.Close()
		sources = append(sources, r)
	}

	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)
	res, err := m.Run(context.Background(), sources)
	require.NoError(t, err)

	origin, ok := res.Aggregate.Origin()
	require.True(t, ok)
	assert.Equal(t, base.UnixMicro(), origin)
	assert.Equal(t, uint64(3), res.Summary.PacketCount)
	assert.Equal(t, uint64(2), res.Aggregate.Intervals[0].Packets)
	assert.Equal(t, uint64(1), res.Aggregate.Intervals[1].Packets)
}

func TestRunUnpinnedMisalignedShardsFail(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.Engine.OriginFromFirstSource = &off
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background(), []model.Source{
		&sliceSource{name: "one", records: []*model.PacketRecord{rec(0, hostA, hostB, 10)}},
		&sliceSource{name: "two", records: []*model.PacketRecord{rec(300_000, hostA, hostB, 10)}},
	})
	assert.ErrorIs(t, err, aggregator.ErrConfigMismatch)
}

func TestRunCancelledExportsPartial(t *testing.T) {
	w := &memoryWriter{}
	m, err := NewManager(testConfig(), []model.Writer{w})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for m.Observed() < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res, err := m.Run(ctx, []model.Source{
		&sliceSource{name: "done", records: []*model.PacketRecord{rec(0, hostA, hostB, 10)}},
		&sliceSource{name: "live", records: []*model.PacketRecord{rec(1_000_000, hostB, hostA, 20)}, block: true},
	})
	require.NoError(t, err)
	assert.True(t, res.Partial())
	assert.True(t, res.Summary.Partial)
	assert.Equal(t, uint64(2), res.Summary.PacketCount)

	require.Len(t, w.snapshots, 1)
	assert.True(t, w.snapshots[0].Partial)
	assert.NoError(t, w.ctxErr)
}

func TestRunIncompleteSourceExportsPartial(t *testing.T) {
	w := &memoryWriter{}
	m, err := NewManager(testConfig(), []model.Writer{w})
	require.NoError(t, err)

	res, err := m.Run(context.Background(), []model.Source{
		&sliceSource{name: "lossy", records: []*model.PacketRecord{rec(0, hostA, hostB, 10)},
			err: fmt.Errorf("%w: 3 messages dropped", model.ErrIncomplete)},
		&sliceSource{name: "clean", records: []*model.PacketRecord{rec(1_000_000, hostB, hostA, 20)}},
	})
	require.NoError(t, err)
	assert.True(t, res.Partial())
	assert.Equal(t, uint64(2), res.Summary.PacketCount)
	require.Len(t, w.snapshots, 1)
	assert.True(t, w.snapshots[0].Partial)
}

func TestRunSourceFailureAborts(t *testing.T) {
	w := &memoryWriter{}
	m, err := NewManager(testConfig(), []model.Writer{w})
	require.NoError(t, err)

	_, err = m.Run(context.Background(), []model.Source{
		&sliceSource{name: "bad", err: errors.New("disk on fire")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Empty(t, w.snapshots)
}

func TestRunWriterFailureIsExportError(t *testing.T) {
	ok := &memoryWriter{}
	bad1 := &memoryWriter{fail: errors.New("disk full")}
	bad2 := &memoryWriter{fail: errors.New("connection refused")}
	m, err := NewManager(testConfig(), []model.Writer{bad1, ok, bad2})
	require.NoError(t, err)

	res, err := m.Run(context.Background(), []model.Source{
		&sliceSource{name: "one", records: []*model.PacketRecord{rec(0, hostA, hostB, 10)}},
	})
	require.Error(t, err)
	require.NotNil(t, res)

	var exportErr *ExportError
	require.ErrorAs(t, err, &exportErr)
	assert.False(t, exportErr.Partial)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, ok.snapshots, 1)
}

func TestRunNoSources(t *testing.T) {
	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)
	_, err = m.Run(context.Background(), nil)
	assert.Error(t, err)
}
