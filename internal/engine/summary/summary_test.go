package summary

import (
	"net/netip"
	"testing"
	"time"

	"Go2NetStats/internal/engine/aggregator"
	"Go2NetStats/internal/model"

	"github.com/stretchr/testify/assert"
)

var (
	hostA = netip.MustParseAddr("192.168.1.10")
	hostB = netip.MustParseAddr("192.168.1.20")
)

func packet(ts int64, src, dst netip.Addr, length uint32) *model.PacketRecord {
	return &model.PacketRecord{Timestamp: ts, Length: length, SrcIP: src, DstIP: dst, Protocol: 6, TTL: 64}
}

func TestComputeScenario(t *testing.T) {
	agg := aggregator.New(aggregator.Options{IntervalWidth: time.Second})
	agg.Observe(packet(0, hostA, hostB, 100))
	agg.Observe(packet(1_000_000, hostB, hostA, 50))
	agg.Observe(packet(2_000_000, hostA, hostB, 150))

	s := Compute(agg)
	assert.Equal(t, uint64(3), s.PacketCount)
	assert.Equal(t, uint64(300), s.ByteCount)
	assert.Equal(t, 2, s.HostCount)
	assert.Equal(t, int64(0), s.FirstTimestamp)
	assert.Equal(t, int64(2_000_000), s.LastTimestamp)
	assert.InDelta(t, 2.0, s.CaptureDuration, 1e-9)
	assert.InDelta(t, 100.0, s.AvgPacketSize, 1e-9)
	assert.InDelta(t, 1.5, s.AvgPacketRate, 1e-9)
	assert.InDelta(t, 1.5, s.AvgPacketsPerHost, 1e-9)
	// Every byte is both sent and received once.
	assert.InDelta(t, 150.0, s.AvgBandwidthIn, 1e-9)
	assert.InDelta(t, 150.0, s.AvgBandwidthOut, 1e-9)
	assert.False(t, s.Partial)
}

func TestComputeDegenerate(t *testing.T) {
	tests := []struct {
		name    string
		packets []*model.PacketRecord
		want    model.GlobalSummary
	}{
		{
			name: "no packets",
			want: model.GlobalSummary{},
		},
		{
			name:    "single packet",
			packets: []*model.PacketRecord{packet(42, hostA, hostB, 60)},
			want: model.GlobalSummary{
				PacketCount:       1,
				ByteCount:         60,
				HostCount:         2,
				FirstTimestamp:    42,
				LastTimestamp:     42,
				AvgPacketSize:     60,
				AvgPacketsPerHost: 0.5,
			},
		},
		{
			name:    "identical timestamps",
			packets: []*model.PacketRecord{packet(7, hostA, hostB, 60), packet(7, hostB, hostA, 40)},
			want: model.GlobalSummary{
				PacketCount:       2,
				ByteCount:         100,
				HostCount:         2,
				FirstTimestamp:    7,
				LastTimestamp:     7,
				AvgPacketSize:     50,
				AvgPacketsPerHost: 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := aggregator.New(aggregator.Options{IntervalWidth: time.Second})
			for _, p := range tt.packets {
				agg.Observe(p)
			}
			assert.Equal(t, tt.want, Compute(agg))
		})
	}
}

func TestComputeCarriesCountersAndPartial(t *testing.T) {
	agg := aggregator.New(aggregator.Options{IntervalWidth: time.Second})
	agg.RecordParseError()
	agg.RecordSkipped()
	agg.MarkPartial()

	s := Compute(agg)
	assert.Equal(t, uint64(1), s.ParseErrors)
	assert.Equal(t, uint64(1), s.SkippedPackets)
	assert.True(t, s.Partial)
}
