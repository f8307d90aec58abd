// Package aggregator maintains the running statistics of one packet stream.
package aggregator

import (
	"net/netip"
	"sync"
	"time"

	"Go2NetStats/internal/model"
)

// Options configures a new Aggregator.
type Options struct {
	// IntervalWidth is the width of the time buckets. Anything below one
	// microsecond is raised to one microsecond.
	IntervalWidth time.Duration
	// Origin is the timestamp (microseconds) bucket 0 starts at. It is only
	// used when PinOrigin is set; otherwise the first observed record defines it.
	Origin    int64
	PinOrigin bool
}

// Distribution counts the occurrences of one categorical value per host.
type Distribution[V comparable] map[model.DistKey[V]]uint64

// Add increments the counter of (ip, v).
func (d Distribution[V]) Add(ip netip.Addr, v V) {
	d[model.DistKey[V]{IP: ip, Value: v}]++
}

// Sum returns the total count recorded for ip.
func (d Distribution[V]) Sum(ip netip.Addr) uint64 {
	var total uint64
	for k, n := range d {
		if k.IP == ip {
			total += n
		}
	}
	return total
}

func (d Distribution[V]) merge(o Distribution[V]) {
	for k, n := range o {
		d[k] += n
	}
}

// Aggregator owns every statistic map of one shard. Observe and the Record
// methods are safe for concurrent use; the exported maps must only be read
// once the aggregator is frozen or no longer fed.
type Aggregator struct {
	mu sync.Mutex

	width     int64
	origin    int64
	hasOrigin bool
	partial   bool
	frozen    bool

	Hosts         map[netip.Addr]*model.IPStat
	TTL           Distribution[uint8]
	MSS           Distribution[uint16]
	ToS           Distribution[uint8]
	Window        Distribution[uint16]
	Protocols     Distribution[uint8]
	Ports         map[model.PortKey]uint64
	MACs          map[netip.Addr]*model.IPMAC
	Conversations map[model.ConversationKey]*model.ConvStat
	Intervals     map[model.IntervalKey]*model.IntervalStat

	TotalPackets uint64
	TotalBytes   uint64
	ParseErrors  uint64
	Skipped      uint64
}

// New creates an empty Aggregator.
func New(opts Options) *Aggregator {
	width := opts.IntervalWidth.Microseconds()
	if width < 1 {
		width = 1
	}
	return &Aggregator{
		width:         width,
		origin:        opts.Origin,
		hasOrigin:     opts.PinOrigin,
		Hosts:         make(map[netip.Addr]*model.IPStat),
		TTL:           make(Distribution[uint8]),
		MSS:           make(Distribution[uint16]),
		ToS:           make(Distribution[uint8]),
		Window:        make(Distribution[uint16]),
		Protocols:     make(Distribution[uint8]),
		Ports:         make(map[model.PortKey]uint64),
		MACs:          make(map[netip.Addr]*model.IPMAC),
		Conversations: make(map[model.ConversationKey]*model.ConvStat),
		Intervals:     make(map[model.IntervalKey]*model.IntervalStat),
	}
}

// Observe folds one record into every statistic. Records do not need to
// arrive in timestamp order. Observe panics on a frozen aggregator.
func (a *Aggregator) Observe(rec *model.PacketRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBeOpen()

	if !rec.SrcIP.IsValid() || !rec.DstIP.IsValid() {
		a.Skipped++
		return
	}

	ts := rec.Timestamp
	size := uint64(rec.Length)
	a.TotalPackets++
	a.TotalBytes += size

	src := a.host(rec.SrcIP)
	src.Touch(ts)
	src.PacketsSent++
	src.BytesSent += size

	dst := a.host(rec.DstIP)
	dst.Touch(ts)
	dst.PacketsReceived++
	dst.BytesReceived += size

	a.TTL.Add(rec.SrcIP, rec.TTL)
	if rec.HasMSS {
		a.MSS.Add(rec.SrcIP, rec.MSS)
	}
	a.ToS.Add(rec.SrcIP, rec.ToS)
	if rec.HasWindow {
		a.Window.Add(rec.SrcIP, rec.Window)
	}
	a.Protocols.Add(rec.SrcIP, rec.Protocol)

	a.Ports[model.PortKey{IP: rec.SrcIP, Port: rec.SrcPort, Direction: model.DirectionOut}]++
	a.Ports[model.PortKey{IP: rec.DstIP, Port: rec.DstPort, Direction: model.DirectionIn}]++

	a.writeMAC(rec.SrcIP, rec.SrcMAC.String(), ts)
	a.writeMAC(rec.DstIP, rec.DstMAC.String(), ts)

	key, srcIsA := model.NewConversationKey(
		model.Endpoint{Addr: rec.SrcIP, Port: rec.SrcPort},
		model.Endpoint{Addr: rec.DstIP, Port: rec.DstPort},
		rec.Protocol,
	)
	conv, ok := a.Conversations[key]
	if !ok {
		conv = &model.ConvStat{FirstSeen: ts, LastSeen: ts}
		a.Conversations[key] = conv
	}
	conv.Packets++
	conv.Bytes += size
	if srcIsA {
		conv.PacketsAB++
		conv.BytesAB += size
	} else {
		conv.PacketsBA++
		conv.BytesBA += size
	}
	conv.FirstSeen = min(conv.FirstSeen, ts)
	conv.LastSeen = max(conv.LastSeen, ts)

	if !a.hasOrigin {
		a.origin, a.hasOrigin = ts, true
	}
	bucket := a.bucket(ts)
	iv, ok := a.Intervals[bucket]
	if !ok {
		iv = &model.IntervalStat{}
		a.Intervals[bucket] = iv
	}
	iv.Packets++
	iv.Bytes += size
}

// RecordParseError counts a packet that could not be decoded.
func (a *Aggregator) RecordParseError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBeOpen()
	a.ParseErrors++
}

// RecordSkipped counts a well-formed frame that carried no IP packet.
func (a *Aggregator) RecordSkipped() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBeOpen()
	a.Skipped++
}

// MarkPartial tags the aggregate as built from an incomplete stream.
func (a *Aggregator) MarkPartial() {
	a.mu.Lock()
	a.partial = true
	a.mu.Unlock()
}

// Partial reports whether the aggregate is tagged as incomplete.
func (a *Aggregator) Partial() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partial
}

// Freeze makes the aggregator read-only.
func (a *Aggregator) Freeze() {
	a.mu.Lock()
	a.frozen = true
	a.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (a *Aggregator) Frozen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frozen
}

// Width returns the interval bucket width.
func (a *Aggregator) Width() time.Duration {
	return time.Duration(a.width) * time.Microsecond
}

// Origin returns the timestamp bucket 0 starts at, if known yet.
func (a *Aggregator) Origin() (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.origin, a.hasOrigin
}

// IntervalStart returns the first timestamp covered by bucket k.
func (a *Aggregator) IntervalStart(k model.IntervalKey) int64 {
	return a.origin + int64(k)*a.width
}

func (a *Aggregator) mustBeOpen() {
	if a.frozen {
		panic("aggregator: update after Freeze")
	}
}

func (a *Aggregator) host(ip netip.Addr) *model.IPStat {
	s, ok := a.Hosts[ip]
	if !ok {
		s = &model.IPStat{}
		a.Hosts[ip] = s
	}
	return s
}

// writeMAC applies last-write-wins in observation order.
func (a *Aggregator) writeMAC(ip netip.Addr, mac string, ts int64) {
	if mac == "" {
		return
	}
	m, ok := a.MACs[ip]
	if !ok {
		m = &model.IPMAC{Seen: make(map[string]struct{})}
		a.MACs[ip] = m
	}
	m.MAC = mac
	m.Written = ts
	m.Seen[mac] = struct{}{}
}

func (a *Aggregator) bucket(ts int64) model.IntervalKey {
	return model.IntervalKey(floorDiv(ts-a.origin, a.width))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
