package pcap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetStats/internal/model"
	"Go2NetStats/internal/testutil"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	records     []*model.PacketRecord
	parseErrors int
	skipped     int
}

func (r *recorder) Observe(rec *model.PacketRecord) { r.records = append(r.records, rec) }
func (r *recorder) RecordParseError()               { r.parseErrors++ }
func (r *recorder) RecordSkipped()                  { r.skipped++ }

var base = time.Unix(1700000000, 0)

func samplePackets() []testutil.Packet {
	return []testutil.Packet{
		{Time: base.Add(2 * time.Second), SrcIP: "192.168.0.1", DstIP: "8.8.8.8", SrcPort: 5000, DstPort: 53, Proto: layers.IPProtocolUDP, TTL: 64, Payload: 20},
		{Time: base.Add(1 * time.Second), SrcIP: "8.8.8.8", DstIP: "192.168.0.1", SrcPort: 53, DstPort: 5000, Proto: layers.IPProtocolUDP, TTL: 120, Payload: 80},
		{Time: base.Add(3 * time.Second), SrcIP: "192.168.0.1", DstIP: "1.1.1.1", SrcPort: 40000, DstPort: 443, TTL: 64, MSS: 1460, Window: 64240},
	}
}

func TestReaderRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.pcap")
	require.NoError(t, testutil.WritePcap(path, samplePackets()))

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, path, reader.Name())
	assert.Equal(t, layers.LinkTypeEthernet, reader.LinkType())

	var rec recorder
	require.NoError(t, reader.Run(context.Background(), &rec))
	require.Len(t, rec.records, 3)
	assert.Zero(t, rec.parseErrors)
	assert.Equal(t, base.Add(2*time.Second).UnixMicro(), rec.records[0].Timestamp)
	assert.True(t, rec.records[2].HasMSS)
}

func TestReaderCountsBadFrames(t *testing.T) {
	good, err := samplePackets()[0].Bytes()
	require.NoError(t, err)
	arp, err := testutil.ARPFrame()
	require.NoError(t, err)
	broken := good[:14+10]

	path := filepath.Join(t.TempDir(), "mixed.pcap")
	require.NoError(t, testutil.WriteFrames(path, []testutil.Frame{
		{Data: broken, CI: gopacket.CaptureInfo{Timestamp: base, CaptureLength: len(broken), Length: len(broken)}},
		{Data: arp, CI: gopacket.CaptureInfo{Timestamp: base, CaptureLength: len(arp), Length: len(arp)}},
		{Data: good, CI: gopacket.CaptureInfo{Timestamp: base.Add(time.Second), CaptureLength: len(good), Length: len(good)}},
	}))

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	var rec recorder
	require.NoError(t, reader.Run(context.Background(), &rec))
	assert.Len(t, rec.records, 1)
	assert.Equal(t, 1, rec.parseErrors)
	assert.Equal(t, 1, rec.skipped)

	// The origin skips frames that do not decode.
	ts, ok, err := reader.FirstTimestamp()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, base.Add(time.Second).UnixMicro(), ts)
}

func TestReaderTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.pcap")
	require.NoError(t, testutil.WritePcap(path, samplePackets()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-10))

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	var rec recorder
	require.NoError(t, reader.Run(context.Background(), &rec))
	assert.Len(t, rec.records, 2)
	assert.Equal(t, 1, rec.parseErrors)
}

func TestReaderPcapng(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, p := range samplePackets() {
		data, err := p.Bytes()
		require.NoError(t, err)
		ci := p.CaptureInfo(data)
		ci.InterfaceIndex = 0
		require.NoError(t, w.WritePacket(ci, data))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	var rec recorder
	require.NoError(t, reader.Run(context.Background(), &rec))
	assert.Len(t, rec.records, 3)
}

func TestReaderHonoursCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.pcap")
	require.NoError(t, testutil.WritePcap(path, samplePackets()))

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rec recorder
	assert.ErrorIs(t, reader.Run(ctx, &rec), context.Canceled)
	assert.Empty(t, rec.records)
}

func TestNewReaderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pcap")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a capture file"), 0o644))

	_, err := NewReader(path)
	assert.Error(t, err)

	_, err = NewReader(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
}
