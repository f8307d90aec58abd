package aggregator

import (
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"time"

	"Go2NetStats/internal/model"

	"github.com/hashicorp/go-multierror"
)

// ErrConfigMismatch is returned when aggregates with incompatible bucketing are merged.
var ErrConfigMismatch = errors.New("aggregator configuration mismatch")

// TieBreak selects which shard's current MAC wins when shards disagree for an IP.
type TieBreak string

const (
	// TieBreakLatest keeps the MAC with the greatest write timestamp; on a
	// tie the earlier shard wins.
	TieBreakLatest TieBreak = "latest"
	// TieBreakFirst keeps the MAC of the earliest shard in merge order.
	TieBreakFirst TieBreak = "first"
	// TieBreakLast keeps the MAC of the latest shard in merge order.
	TieBreakLast TieBreak = "last"
)

// ParseTieBreak converts a configuration string into a TieBreak.
func ParseTieBreak(s string) (TieBreak, error) {
	switch tb := TieBreak(s); tb {
	case TieBreakLatest, TieBreakFirst, TieBreakLast:
		return tb, nil
	case "":
		return TieBreakLatest, nil
	}
	return "", fmt.Errorf("unknown MAC tie-break %q", s)
}

// MergeOptions controls how conflicting shard state is combined.
type MergeOptions struct {
	MACTieBreak TieBreak
}

// Merge combines shard aggregates into a new one. Parts are read, never
// modified, and their argument order is the shard order used by tie-breaks.
func Merge(opts MergeOptions, parts ...*Aggregator) (*Aggregator, error) {
	if len(parts) == 0 {
		return nil, errors.New("no aggregates to merge")
	}
	tieBreak := opts.MACTieBreak
	if tieBreak == "" {
		tieBreak = TieBreakLatest
	}

	locked := make(map[*Aggregator]bool, len(parts))
	for _, p := range parts {
		if p == nil {
			return nil, errors.New("cannot merge a nil aggregate")
		}
		if !locked[p] {
			locked[p] = true
			p.mu.Lock()
			defer p.mu.Unlock()
		}
	}

	shifts, base, hasBase, err := alignOrigins(parts)
	if err != nil {
		return nil, err
	}

	out := New(Options{
		IntervalWidth: time.Duration(parts[0].width) * time.Microsecond,
		Origin:        base,
		PinOrigin:     hasBase,
	})

	for i, p := range parts {
		out.TotalPackets += p.TotalPackets
		out.TotalBytes += p.TotalBytes
		out.ParseErrors += p.ParseErrors
		out.Skipped += p.Skipped
		out.partial = out.partial || p.partial

		for ip, s := range p.Hosts {
			out.host(ip).Merge(*s)
		}
		out.TTL.merge(p.TTL)
		out.MSS.merge(p.MSS)
		out.ToS.merge(p.ToS)
		out.Window.merge(p.Window)
		out.Protocols.merge(p.Protocols)
		for k, n := range p.Ports {
			out.Ports[k] += n
		}
		for ip, m := range p.MACs {
			out.mergeMAC(ip, m, tieBreak)
		}
		for k, c := range p.Conversations {
			cur, ok := out.Conversations[k]
			if !ok {
				cur = &model.ConvStat{}
				out.Conversations[k] = cur
			}
			cur.Merge(*c)
		}
		for k, iv := range p.Intervals {
			key := k + model.IntervalKey(shifts[i])
			cur, ok := out.Intervals[key]
			if !ok {
				cur = &model.IntervalStat{}
				out.Intervals[key] = cur
			}
			cur.Packets += iv.Packets
			cur.Bytes += iv.Bytes
		}
	}

	return out, nil
}

// alignOrigins checks that all parts share the bucket width and returns, per
// part, the bucket shift onto the earliest origin.
func alignOrigins(parts []*Aggregator) ([]int64, int64, bool, error) {
	var result *multierror.Error

	width := parts[0].width
	for i, p := range parts[1:] {
		if p.width != width {
			result = multierror.Append(result, fmt.Errorf("%w: part %d has interval width %dus, part 0 has %dus",
				ErrConfigMismatch, i+1, p.width, width))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, 0, false, err
	}

	var base int64
	hasBase := false
	for _, p := range parts {
		if p.hasOrigin && (!hasBase || p.origin < base) {
			base, hasBase = p.origin, true
		}
	}

	shifts := make([]int64, len(parts))
	for i, p := range parts {
		if !p.hasOrigin {
			continue
		}
		diff := p.origin - base
		if diff%width != 0 {
			result = multierror.Append(result, fmt.Errorf("%w: part %d origin %d is not aligned to origin %d with width %dus",
				ErrConfigMismatch, i, p.origin, base, width))
			continue
		}
		shifts[i] = diff / width
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, 0, false, err
	}
	return shifts, base, hasBase, nil
}

func (a *Aggregator) mergeMAC(ip netip.Addr, m *model.IPMAC, tieBreak TieBreak) {
	cur, ok := a.MACs[ip]
	if !ok {
		cur = &model.IPMAC{MAC: m.MAC, Written: m.Written, Seen: maps.Clone(m.Seen)}
		if cur.Seen == nil {
			cur.Seen = make(map[string]struct{})
		}
		a.MACs[ip] = cur
		return
	}
	replace := false
	switch tieBreak {
	case TieBreakLatest:
		replace = m.Written > cur.Written
	case TieBreakLast:
		replace = true
	}
	if replace {
		cur.MAC, cur.Written = m.MAC, m.Written
	}
	for mac := range m.Seen {
		cur.Seen[mac] = struct{}{}
	}
}
