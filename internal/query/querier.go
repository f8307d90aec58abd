// Package query answers host level questions over an exported snapshot.
package query

import (
	"cmp"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"slices"

	"Go2NetStats/internal/export"
	"Go2NetStats/internal/model"
)

var (
	// ErrNotFound is returned for unknown hosts and tables.
	ErrNotFound = errors.New("not found")
	// ErrInvalidSnapshot is returned when a snapshot lacks a required table or column.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// Rates holds the average packet rates of a host over its active time.
type Rates struct {
	Sent     float64 `json:"sent"`
	Received float64 `json:"received"`
}

// PortCount is the usage count of one port.
type PortCount struct {
	Port  uint16 `json:"port"`
	Count uint64 `json:"count"`
}

// Querier defines the interface for querying statistics.
type Querier interface {
	Summary() model.GlobalSummary
	PacketCount() uint64
	MostUsedIP() (netip.Addr, error)
	MACAddress(ip netip.Addr) (string, error)
	PacketRates(ip netip.Addr) (Rates, error)
	TTLDistribution(ip netip.Addr) (map[uint8]uint64, error)
	MostUsedMSS(ip netip.Addr) (uint16, bool, error)
	PortsUsed(ip netip.Addr, dir model.Direction) ([]PortCount, error)
	RandomIP(rng *rand.Rand) (netip.Addr, error)
	Table(name string) (*model.Table, error)
}

type host struct {
	stat model.IPStat
	mac  string
	ttl  map[uint8]uint64
	mss  map[uint16]uint64
	in   []PortCount
	out  []PortCount
}

// SnapshotQuerier implements Querier over an in-memory snapshot.
type SnapshotQuerier struct {
	snapshot *model.Snapshot
	summary  model.GlobalSummary
	hosts    map[netip.Addr]*host
	order    []netip.Addr
}

// NewSnapshotQuerier indexes snap for host lookups.
func NewSnapshotQuerier(snap *model.Snapshot) (*SnapshotQuerier, error) {
	sum, ok := export.SummaryFromSnapshot(snap)
	if !ok {
		return nil, fmt.Errorf("%w: missing or malformed %s table", ErrInvalidSnapshot, export.TableGlobalSummary)
	}
	q := &SnapshotQuerier{snapshot: snap, summary: sum, hosts: make(map[netip.Addr]*host)}

	if err := q.indexHosts(); err != nil {
		return nil, err
	}
	if err := q.eachHostRow(export.TableIPMAC, func(h *host, t *model.Table, row model.Row) bool {
		mac, ok := model.Cell[string](t, row, "mac")
		h.mac = mac
		return ok
	}); err != nil {
		return nil, err
	}
	if err := q.eachHostRow(export.TableTTLDistribution, func(h *host, t *model.Table, row model.Row) bool {
		v, ok1 := model.Cell[uint64](t, row, "ttl")
		n, ok2 := model.Cell[uint64](t, row, "count")
		if h.ttl == nil {
			h.ttl = make(map[uint8]uint64)
		}
		h.ttl[uint8(v)] = n
		return ok1 && ok2
	}); err != nil {
		return nil, err
	}
	if err := q.eachHostRow(export.TableMSSDistribution, func(h *host, t *model.Table, row model.Row) bool {
		v, ok1 := model.Cell[uint64](t, row, "mss")
		n, ok2 := model.Cell[uint64](t, row, "count")
		if h.mss == nil {
			h.mss = make(map[uint16]uint64)
		}
		h.mss[uint16(v)] = n
		return ok1 && ok2
	}); err != nil {
		return nil, err
	}
	if err := q.eachHostRow(export.TablePortStats, func(h *host, t *model.Table, row model.Row) bool {
		port, ok1 := model.Cell[uint64](t, row, "port")
		dir, ok2 := model.Cell[string](t, row, "direction")
		n, ok3 := model.Cell[uint64](t, row, "count")
		d, ok4 := model.ParseDirection(dir)
		pc := PortCount{Port: uint16(port), Count: n}
		if d == model.DirectionOut {
			h.out = append(h.out, pc)
		} else {
			h.in = append(h.in, pc)
		}
		return ok1 && ok2 && ok3 && ok4
	}); err != nil {
		return nil, err
	}

	for _, h := range q.hosts {
		sortPorts(h.in)
		sortPorts(h.out)
	}
	return q, nil
}

func (q *SnapshotQuerier) indexHosts() error {
	t, ok := q.snapshot.Table(export.TableHostStats)
	if !ok {
		return fmt.Errorf("%w: missing %s table", ErrInvalidSnapshot, export.TableHostStats)
	}
	for _, row := range t.Rows {
		ip, ok := rowIP(t, row)
		if !ok {
			return fmt.Errorf("%w: bad row in %s", ErrInvalidSnapshot, t.Name)
		}
		var s model.IPStat
		var oks [6]bool
		s.PacketsSent, oks[0] = model.Cell[uint64](t, row, "packets_sent")
		s.PacketsReceived, oks[1] = model.Cell[uint64](t, row, "packets_received")
		s.BytesSent, oks[2] = model.Cell[uint64](t, row, "bytes_sent")
		s.BytesReceived, oks[3] = model.Cell[uint64](t, row, "bytes_received")
		s.FirstSeen, oks[4] = model.Cell[int64](t, row, "first_seen")
		s.LastSeen, oks[5] = model.Cell[int64](t, row, "last_seen")
		if slices.Contains(oks[:], false) {
			return fmt.Errorf("%w: bad row in %s", ErrInvalidSnapshot, t.Name)
		}
		q.hosts[ip] = &host{stat: s}
		q.order = append(q.order, ip)
	}
	return nil
}

// eachHostRow applies fn to every row of the named table whose host is known.
// Missing tables are treated as empty.
func (q *SnapshotQuerier) eachHostRow(name string, fn func(h *host, t *model.Table, row model.Row) bool) error {
	t, ok := q.snapshot.Table(name)
	if !ok {
		return nil
	}
	for _, row := range t.Rows {
		ip, ok := rowIP(t, row)
		if !ok {
			return fmt.Errorf("%w: bad row in %s", ErrInvalidSnapshot, name)
		}
		h, ok := q.hosts[ip]
		if !ok {
			continue
		}
		if !fn(h, t, row) {
			return fmt.Errorf("%w: bad row in %s", ErrInvalidSnapshot, name)
		}
	}
	return nil
}

func rowIP(t *model.Table, row model.Row) (netip.Addr, bool) {
	s, ok := model.Cell[string](t, row, "ip")
	if !ok {
		return netip.Addr{}, false
	}
	ip, err := netip.ParseAddr(s)
	return ip, err == nil
}

func sortPorts(ports []PortCount) {
	slices.SortFunc(ports, func(a, b PortCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Port, b.Port)
	})
}

func (q *SnapshotQuerier) host(ip netip.Addr) (*host, error) {
	h, ok := q.hosts[ip.Unmap()]
	if !ok {
		return nil, fmt.Errorf("host %s: %w", ip, ErrNotFound)
	}
	return h, nil
}

// Summary returns the global summary of the snapshot.
func (q *SnapshotQuerier) Summary() model.GlobalSummary { return q.summary }

// PacketCount returns the number of aggregated packets.
func (q *SnapshotQuerier) PacketCount() uint64 { return q.summary.PacketCount }

// MostUsedIP returns the host with the most packets sent and received.
// Ties go to the smallest address.
func (q *SnapshotQuerier) MostUsedIP() (netip.Addr, error) {
	var best netip.Addr
	var bestCount uint64
	for _, ip := range q.order {
		s := q.hosts[ip].stat
		n := s.PacketsSent + s.PacketsReceived
		if !best.IsValid() || n > bestCount || (n == bestCount && ip.Less(best)) {
			best, bestCount = ip, n
		}
	}
	if !best.IsValid() {
		return netip.Addr{}, fmt.Errorf("no hosts: %w", ErrNotFound)
	}
	return best, nil
}

// MACAddress returns the current MAC of ip.
func (q *SnapshotQuerier) MACAddress(ip netip.Addr) (string, error) {
	h, err := q.host(ip)
	if err != nil {
		return "", err
	}
	if h.mac == "" {
		return "", fmt.Errorf("MAC of %s: %w", ip, ErrNotFound)
	}
	return h.mac, nil
}

// PacketRates returns packets per second sent and received by ip between
// its first and last packet. A host seen at a single instant has zero rates.
func (q *SnapshotQuerier) PacketRates(ip netip.Addr) (Rates, error) {
	h, err := q.host(ip)
	if err != nil {
		return Rates{}, err
	}
	seconds := float64(h.stat.LastSeen-h.stat.FirstSeen) / 1e6
	if seconds <= 0 {
		return Rates{}, nil
	}
	return Rates{
		Sent:     float64(h.stat.PacketsSent) / seconds,
		Received: float64(h.stat.PacketsReceived) / seconds,
	}, nil
}

// TTLDistribution returns TTL value counts of packets sent by ip.
func (q *SnapshotQuerier) TTLDistribution(ip netip.Addr) (map[uint8]uint64, error) {
	h, err := q.host(ip)
	if err != nil {
		return nil, err
	}
	out := make(map[uint8]uint64, len(h.ttl))
	for k, v := range h.ttl {
		out[k] = v
	}
	return out, nil
}

// MostUsedMSS returns the most frequent MSS announced by ip. The flag is
// false when ip never sent an MSS option.
func (q *SnapshotQuerier) MostUsedMSS(ip netip.Addr) (uint16, bool, error) {
	h, err := q.host(ip)
	if err != nil {
		return 0, false, err
	}
	var best uint16
	var bestCount uint64
	for v, n := range h.mss {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return best, bestCount > 0, nil
}

// PortsUsed returns the ports of ip in one direction, most used first.
func (q *SnapshotQuerier) PortsUsed(ip netip.Addr, dir model.Direction) ([]PortCount, error) {
	h, err := q.host(ip)
	if err != nil {
		return nil, err
	}
	if dir == model.DirectionOut {
		return slices.Clone(h.out), nil
	}
	return slices.Clone(h.in), nil
}

// RandomIP returns a uniformly chosen host.
func (q *SnapshotQuerier) RandomIP(rng *rand.Rand) (netip.Addr, error) {
	if len(q.order) == 0 {
		return netip.Addr{}, fmt.Errorf("no hosts: %w", ErrNotFound)
	}
	return q.order[rng.IntN(len(q.order))], nil
}

// Table returns the named snapshot table.
func (q *SnapshotQuerier) Table(name string) (*model.Table, error) {
	t, ok := q.snapshot.Table(name)
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, ErrNotFound)
	}
	return t, nil
}
