// Package export flattens a finished aggregate into schema-described tables.
package export

import (
	"cmp"
	"maps"
	"net/netip"
	"slices"
	"strings"
	"time"

	"Go2NetStats/internal/engine/aggregator"
	"Go2NetStats/internal/model"
)

// SchemaVersion is the version of the table layout produced by Build.
const SchemaVersion = 1

// Table names.
const (
	TableHostStats            = "host_stats"
	TableTTLDistribution      = "ttl_distribution"
	TableMSSDistribution      = "mss_distribution"
	TableToSDistribution      = "tos_distribution"
	TableWindowDistribution   = "window_distribution"
	TableProtocolDistribution = "protocol_distribution"
	TablePortStats            = "port_stats"
	TableIPMAC                = "ip_mac"
	TableConversationStats    = "conversation_stats"
	TableIntervalStats        = "interval_stats"
	TableGlobalSummary        = "global_summary"
	TableSchemaVersion        = "schema_version"
)

var (
	ipColumn    = model.Column{Name: "ip", Type: model.TypeString}
	countColumn = model.Column{Name: "count", Type: model.TypeUint64}
)

// Build freezes agg and returns its snapshot. Rows are sorted by key so the
// same aggregate always yields the same snapshot.
func Build(agg *aggregator.Aggregator, sum model.GlobalSummary, schemaVersion int) *model.Snapshot {
	agg.Freeze()

	return &model.Snapshot{
		SchemaVersion: schemaVersion,
		Partial:       sum.Partial || agg.Partial(),
		CreatedAt:     time.Now().UTC(),
		Tables: []model.Table{
			hostTable(agg),
			distributionTable(TableTTLDistribution, "ttl", agg.TTL),
			distributionTable(TableMSSDistribution, "mss", agg.MSS),
			distributionTable(TableToSDistribution, "tos", agg.ToS),
			distributionTable(TableWindowDistribution, "window", agg.Window),
			distributionTable(TableProtocolDistribution, "protocol", agg.Protocols),
			portTable(agg),
			macTable(agg),
			conversationTable(agg),
			intervalTable(agg),
			summaryTable(sum),
			{
				Name:   TableSchemaVersion,
				Values: []model.Column{{Name: "version", Type: model.TypeInt64}},
				Rows:   []model.Row{{int64(schemaVersion)}},
			},
		},
	}
}

func hostTable(agg *aggregator.Aggregator) model.Table {
	t := model.Table{
		Name: TableHostStats,
		Keys: []model.Column{ipColumn},
		Values: []model.Column{
			{Name: "packets_sent", Type: model.TypeUint64},
			{Name: "packets_received", Type: model.TypeUint64},
			{Name: "bytes_sent", Type: model.TypeUint64},
			{Name: "bytes_received", Type: model.TypeUint64},
			{Name: "first_seen", Type: model.TypeInt64},
			{Name: "last_seen", Type: model.TypeInt64},
		},
	}
	for _, ip := range slices.SortedFunc(maps.Keys(agg.Hosts), netip.Addr.Compare) {
		h := agg.Hosts[ip]
		t.Rows = append(t.Rows, model.Row{ip.String(), h.PacketsSent, h.PacketsReceived, h.BytesSent, h.BytesReceived, h.FirstSeen, h.LastSeen})
	}
	return t
}

type unsigned interface {
	~uint8 | ~uint16
}

func distributionTable[V unsigned](name, valueName string, dist aggregator.Distribution[V]) model.Table {
	t := model.Table{
		Name:   name,
		Keys:   []model.Column{ipColumn, {Name: valueName, Type: model.TypeUint64}},
		Values: []model.Column{countColumn},
	}
	keys := slices.SortedFunc(maps.Keys(dist), func(a, b model.DistKey[V]) int {
		if c := a.IP.Compare(b.IP); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	for _, k := range keys {
		t.Rows = append(t.Rows, model.Row{k.IP.String(), uint64(k.Value), dist[k]})
	}
	return t
}

func portTable(agg *aggregator.Aggregator) model.Table {
	t := model.Table{
		Name: TablePortStats,
		Keys: []model.Column{
			ipColumn,
			{Name: "port", Type: model.TypeUint64},
			{Name: "direction", Type: model.TypeString},
		},
		Values: []model.Column{countColumn},
	}
	keys := slices.SortedFunc(maps.Keys(agg.Ports), func(a, b model.PortKey) int {
		if c := a.IP.Compare(b.IP); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Port, b.Port); c != 0 {
			return c
		}
		return cmp.Compare(a.Direction, b.Direction)
	})
	for _, k := range keys {
		t.Rows = append(t.Rows, model.Row{k.IP.String(), uint64(k.Port), k.Direction.String(), agg.Ports[k]})
	}
	return t
}

func macTable(agg *aggregator.Aggregator) model.Table {
	t := model.Table{
		Name: TableIPMAC,
		Keys: []model.Column{ipColumn},
		Values: []model.Column{
			{Name: "mac", Type: model.TypeString},
			{Name: "written_at", Type: model.TypeInt64},
			{Name: "all_macs", Type: model.TypeString},
		},
	}
	for _, ip := range slices.SortedFunc(maps.Keys(agg.MACs), netip.Addr.Compare) {
		m := agg.MACs[ip]
		seen := slices.Sorted(maps.Keys(m.Seen))
		t.Rows = append(t.Rows, model.Row{ip.String(), m.MAC, m.Written, strings.Join(seen, ",")})
	}
	return t
}

func conversationTable(agg *aggregator.Aggregator) model.Table {
	t := model.Table{
		Name: TableConversationStats,
		Keys: []model.Column{
			{Name: "ip_a", Type: model.TypeString},
			{Name: "port_a", Type: model.TypeUint64},
			{Name: "ip_b", Type: model.TypeString},
			{Name: "port_b", Type: model.TypeUint64},
			{Name: "protocol", Type: model.TypeUint64},
		},
		Values: []model.Column{
			{Name: "packets", Type: model.TypeUint64},
			{Name: "bytes", Type: model.TypeUint64},
			{Name: "packets_ab", Type: model.TypeUint64},
			{Name: "packets_ba", Type: model.TypeUint64},
			{Name: "bytes_ab", Type: model.TypeUint64},
			{Name: "bytes_ba", Type: model.TypeUint64},
			{Name: "first_seen", Type: model.TypeInt64},
			{Name: "last_seen", Type: model.TypeInt64},
		},
	}
	keys := slices.SortedFunc(maps.Keys(agg.Conversations), func(a, b model.ConversationKey) int {
		if c := a.A.Compare(b.A); c != 0 {
			return c
		}
		if c := a.B.Compare(b.B); c != 0 {
			return c
		}
		return cmp.Compare(a.Protocol, b.Protocol)
	})
	for _, k := range keys {
		c := agg.Conversations[k]
		t.Rows = append(t.Rows, model.Row{
			k.A.Addr.String(), uint64(k.A.Port), k.B.Addr.String(), uint64(k.B.Port), uint64(k.Protocol),
			c.Packets, c.Bytes, c.PacketsAB, c.PacketsBA, c.BytesAB, c.BytesBA, c.FirstSeen, c.LastSeen,
		})
	}
	return t
}

func intervalTable(agg *aggregator.Aggregator) model.Table {
	t := model.Table{
		Name: TableIntervalStats,
		Keys: []model.Column{{Name: "interval", Type: model.TypeInt64}},
		Values: []model.Column{
			{Name: "start_time", Type: model.TypeInt64},
			{Name: "packets", Type: model.TypeUint64},
			{Name: "bytes", Type: model.TypeUint64},
		},
	}
	for _, k := range slices.Sorted(maps.Keys(agg.Intervals)) {
		iv := agg.Intervals[k]
		t.Rows = append(t.Rows, model.Row{int64(k), agg.IntervalStart(k), iv.Packets, iv.Bytes})
	}
	return t
}

func summaryTable(s model.GlobalSummary) model.Table {
	return model.Table{
		Name: TableGlobalSummary,
		Values: []model.Column{
			{Name: "packet_count", Type: model.TypeUint64},
			{Name: "byte_count", Type: model.TypeUint64},
			{Name: "parse_errors", Type: model.TypeUint64},
			{Name: "skipped_packets", Type: model.TypeUint64},
			{Name: "host_count", Type: model.TypeInt64},
			{Name: "first_timestamp", Type: model.TypeInt64},
			{Name: "last_timestamp", Type: model.TypeInt64},
			{Name: "capture_duration", Type: model.TypeFloat64},
			{Name: "avg_packet_rate", Type: model.TypeFloat64},
			{Name: "avg_packet_size", Type: model.TypeFloat64},
			{Name: "avg_packets_per_host", Type: model.TypeFloat64},
			{Name: "avg_bandwidth_in", Type: model.TypeFloat64},
			{Name: "avg_bandwidth_out", Type: model.TypeFloat64},
			{Name: "partial", Type: model.TypeBool},
		},
		Rows: []model.Row{{
			s.PacketCount, s.ByteCount, s.ParseErrors, s.SkippedPackets, int64(s.HostCount),
			s.FirstTimestamp, s.LastTimestamp, s.CaptureDuration, s.AvgPacketRate, s.AvgPacketSize,
			s.AvgPacketsPerHost, s.AvgBandwidthIn, s.AvgBandwidthOut, s.Partial,
		}},
	}
}

// SummaryFromSnapshot reads the global summary row back from a snapshot.
func SummaryFromSnapshot(snap *model.Snapshot) (model.GlobalSummary, bool) {
	t, ok := snap.Table(TableGlobalSummary)
	if !ok || len(t.Rows) != 1 {
		return model.GlobalSummary{}, false
	}
	r := &rowReader{table: t, row: t.Rows[0]}
	s := model.GlobalSummary{
		PacketCount:       uintCell(r, "packet_count"),
		ByteCount:         uintCell(r, "byte_count"),
		ParseErrors:       uintCell(r, "parse_errors"),
		SkippedPackets:    uintCell(r, "skipped_packets"),
		HostCount:         int(intCell(r, "host_count")),
		FirstTimestamp:    intCell(r, "first_timestamp"),
		LastTimestamp:     intCell(r, "last_timestamp"),
		CaptureDuration:   floatCell(r, "capture_duration"),
		AvgPacketRate:     floatCell(r, "avg_packet_rate"),
		AvgPacketSize:     floatCell(r, "avg_packet_size"),
		AvgPacketsPerHost: floatCell(r, "avg_packets_per_host"),
		AvgBandwidthIn:    floatCell(r, "avg_bandwidth_in"),
		AvgBandwidthOut:   floatCell(r, "avg_bandwidth_out"),
		Partial:           cell[bool](r, "partial"),
	}
	return s, !r.failed
}

type rowReader struct {
	table  *model.Table
	row    model.Row
	failed bool
}

func cell[T any](r *rowReader, name string) T {
	v, ok := model.Cell[T](r.table, r.row, name)
	if !ok {
		r.failed = true
	}
	return v
}

func uintCell(r *rowReader, name string) uint64   { return cell[uint64](r, name) }
func intCell(r *rowReader, name string) int64     { return cell[int64](r, name) }
func floatCell(r *rowReader, name string) float64 { return cell[float64](r, name) }
