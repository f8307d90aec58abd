// Package summary derives the capture-wide metrics of an aggregate.
package summary

import (
	"Go2NetStats/internal/engine/aggregator"
	"Go2NetStats/internal/model"
)

// Compute derives the global summary. Degenerate inputs (no packets, one
// packet, zero duration) yield zero rates instead of errors.
func Compute(agg *aggregator.Aggregator) model.GlobalSummary {
	s := model.GlobalSummary{
		PacketCount:    agg.TotalPackets,
		ByteCount:      agg.TotalBytes,
		ParseErrors:    agg.ParseErrors,
		SkippedPackets: agg.Skipped,
		HostCount:      len(agg.Hosts),
		Partial:        agg.Partial(),
	}

	var bytesIn, bytesOut uint64
	first := true
	for _, h := range agg.Hosts {
		if first {
			s.FirstTimestamp, s.LastTimestamp = h.FirstSeen, h.LastSeen
			first = false
		} else {
			s.FirstTimestamp = min(s.FirstTimestamp, h.FirstSeen)
			s.LastTimestamp = max(s.LastTimestamp, h.LastSeen)
		}
		bytesIn += h.BytesReceived
		bytesOut += h.BytesSent
	}

	if s.PacketCount >= 2 {
		s.CaptureDuration = float64(s.LastTimestamp-s.FirstTimestamp) / 1e6
	}
	if s.PacketCount > 0 {
		s.AvgPacketSize = float64(s.ByteCount) / float64(s.PacketCount)
	}
	if s.HostCount > 0 {
		s.AvgPacketsPerHost = float64(s.PacketCount) / float64(s.HostCount)
	}
	if s.CaptureDuration > 0 {
		s.AvgPacketRate = float64(s.PacketCount) / s.CaptureDuration
		s.AvgBandwidthIn = float64(bytesIn) / s.CaptureDuration
		s.AvgBandwidthOut = float64(bytesOut) / s.CaptureDuration
	}
	return s
}
