package model

import (
	"net"
	"net/netip"
)

// PacketRecord holds the normalized fields of a single captured packet.
// Timestamps are microseconds of the capture clock.
type PacketRecord struct {
	Timestamp int64
	Length    uint32

	SrcIP  netip.Addr
	DstIP  netip.Addr
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr

	SrcPort  uint16
	DstPort  uint16
	Protocol uint8

	TTL uint8
	ToS uint8

	// MSS and Window are only meaningful when the matching Has flag is set.
	MSS       uint16
	HasMSS    bool
	Window    uint16
	HasWindow bool
}

// IPStat holds the per-host counters.
type IPStat struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	FirstSeen       int64
	LastSeen        int64
}

// Touch extends the first/last seen window of the host with ts.
func (s *IPStat) Touch(ts int64) {
	if s.PacketsSent+s.PacketsReceived == 0 {
		s.FirstSeen, s.LastSeen = ts, ts
		return
	}
	s.FirstSeen = min(s.FirstSeen, ts)
	s.LastSeen = max(s.LastSeen, ts)
}

// Merge folds o into s.
func (s *IPStat) Merge(o IPStat) {
	if o.PacketsSent+o.PacketsReceived == 0 {
		return
	}
	if s.PacketsSent+s.PacketsReceived == 0 {
		*s = o
		return
	}
	s.PacketsSent += o.PacketsSent
	s.PacketsReceived += o.PacketsReceived
	s.BytesSent += o.BytesSent
	s.BytesReceived += o.BytesReceived
	s.FirstSeen = min(s.FirstSeen, o.FirstSeen)
	s.LastSeen = max(s.LastSeen, o.LastSeen)
}

// DistKey identifies one categorical value observed for a host.
type DistKey[V comparable] struct {
	IP    netip.Addr
	Value V
}

// Direction tags a port counter as incoming or outgoing traffic of the host.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionOut {
		return "out"
	}
	return "in"
}

// ParseDirection converts "in"/"out" into a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "in":
		return DirectionIn, true
	case "out":
		return DirectionOut, true
	}
	return DirectionIn, false
}

// PortKey identifies a port used by a host in one direction.
type PortKey struct {
	IP        netip.Addr
	Port      uint16
	Direction Direction
}

// Endpoint is one side of a conversation.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// Compare orders endpoints by address, then by port.
// IPv4 addresses sort before IPv6 addresses.
func (e Endpoint) Compare(o Endpoint) int {
	if c := e.Addr.Compare(o.Addr); c != 0 {
		return c
	}
	switch {
	case e.Port < o.Port:
		return -1
	case e.Port > o.Port:
		return 1
	}
	return 0
}

func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

// ConversationKey is the direction independent identity of a flow.
// A is always the smaller endpoint under Endpoint.Compare.
type ConversationKey struct {
	A        Endpoint
	B        Endpoint
	Protocol uint8
}

// NewConversationKey canonicalizes src/dst into a ConversationKey. The
// returned flag reports whether src is the canonical A endpoint.
func NewConversationKey(src, dst Endpoint, protocol uint8) (ConversationKey, bool) {
	if src.Compare(dst) <= 0 {
		return ConversationKey{A: src, B: dst, Protocol: protocol}, true
	}
	return ConversationKey{A: dst, B: src, Protocol: protocol}, false
}

// ConvStat holds the counters of one conversation. The AB/BA slots are
// relative to the canonical endpoint order, not to who spoke first.
type ConvStat struct {
	Packets   uint64
	Bytes     uint64
	PacketsAB uint64
	PacketsBA uint64
	BytesAB   uint64
	BytesBA   uint64
	FirstSeen int64
	LastSeen  int64
}

// Merge folds o into s.
func (s *ConvStat) Merge(o ConvStat) {
	if o.Packets == 0 {
		return
	}
	if s.Packets == 0 {
		*s = o
		return
	}
	s.Packets += o.Packets
	s.Bytes += o.Bytes
	s.PacketsAB += o.PacketsAB
	s.PacketsBA += o.PacketsBA
	s.BytesAB += o.BytesAB
	s.BytesBA += o.BytesBA
	s.FirstSeen = min(s.FirstSeen, o.FirstSeen)
	s.LastSeen = max(s.LastSeen, o.LastSeen)
}

// IntervalKey is the index of a fixed-width time bucket since the stream origin.
type IntervalKey int64

// IntervalStat holds the counters of one time bucket.
type IntervalStat struct {
	Packets uint64
	Bytes   uint64
}

// IPMAC records the MAC addresses seen for an IP. MAC is the most recently
// written one; Written is the capture timestamp of that write.
type IPMAC struct {
	MAC     string
	Written int64
	Seen    map[string]struct{}
}

// GlobalSummary holds the capture-wide derived metrics. Durations are in
// seconds, sizes in bytes and rates per second.
type GlobalSummary struct {
	PacketCount       uint64  `json:"packet_count"`
	ByteCount         uint64  `json:"byte_count"`
	ParseErrors       uint64  `json:"parse_errors"`
	SkippedPackets    uint64  `json:"skipped_packets"`
	HostCount         int     `json:"host_count"`
	FirstTimestamp    int64   `json:"first_timestamp"`
	LastTimestamp     int64   `json:"last_timestamp"`
	CaptureDuration   float64 `json:"capture_duration"`
	AvgPacketRate     float64 `json:"avg_packet_rate"`
	AvgPacketSize     float64 `json:"avg_packet_size"`
	AvgPacketsPerHost float64 `json:"avg_packets_per_host"`
	AvgBandwidthIn    float64 `json:"avg_bandwidth_in"`
	AvgBandwidthOut   float64 `json:"avg_bandwidth_out"`
	Partial           bool    `json:"partial"`
}
