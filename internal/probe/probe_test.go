package probe

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"Go2NetStats/internal/model"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func fullRecord() *model.PacketRecord {
	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	return &model.PacketRecord{
		Timestamp: -1_500_000,
		Length:    1514,
		SrcIP:     netip.MustParseAddr("10.0.0.1"),
		DstIP:     netip.MustParseAddr("2001:db8::5"),
		SrcMAC:    mac,
		SrcPort:   65535,
		DstPort:   443,
		Protocol:  6,
		TTL:       64,
		ToS:       0xb8,
		MSS:       0,
		HasMSS:    true,
		Window:    29200,
		HasWindow: true,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	rec := fullRecord()
	got, err := DecodeRecord(EncodeRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	sparse := &model.PacketRecord{Timestamp: 7, SrcIP: rec.SrcIP, DstIP: rec.SrcIP, Protocol: 1}
	got, err = DecodeRecord(EncodeRecord(sparse))
	require.NoError(t, err)
	assert.False(t, got.HasMSS)
	assert.False(t, got.HasWindow)
	assert.Nil(t, got.SrcMAC)
	assert.Equal(t, sparse, got)
}

func TestDecodeUnmapsIPv4MappedAddresses(t *testing.T) {
	rec := fullRecord()
	rec.SrcIP = netip.MustParseAddr("::ffff:10.0.0.1")
	rec.DstIP = netip.MustParseAddr("::ffff:192.168.1.7")

	got, err := DecodeRecord(EncodeRecord(rec))
	require.NoError(t, err)
	assert.True(t, got.SrcIP.Is4())
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), got.SrcIP)
	assert.Equal(t, netip.MustParseAddr("192.168.1.7"), got.DstIP)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	data := EncodeRecord(fullRecord())
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future"))
	data = protowire.AppendTag(data, 100, protowire.VarintType)
	data = protowire.AppendVarint(data, 1<<40)

	got, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, fullRecord(), got)
}

func TestDecodeRejectsInvalid(t *testing.T) {
	valid := EncodeRecord(fullRecord())

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", valid[:len(valid)-1]},
		{"missing address", protowire.AppendVarint(protowire.AppendTag(nil, fieldTimestamp, protowire.VarintType), 1)},
		{"bad address", append(append([]byte(nil), valid...), protowire.AppendBytes(protowire.AppendTag(nil, fieldDstIP, protowire.BytesType), []byte{1, 2, 3})...)},
		{"port out of range", append(append([]byte(nil), valid...), protowire.AppendVarint(protowire.AppendTag(nil, fieldSrcPort, protowire.VarintType), 70000)...)},
		{"wrong wire type", append(append([]byte(nil), valid...), protowire.AppendVarint(protowire.AppendTag(nil, fieldSrcIP, protowire.VarintType), 1)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord(tt.data)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

type fakeConn struct {
	messages [][]byte
	flushed  bool
	drained  bool
	fail     error
}

func (c *fakeConn) Publish(_ string, data []byte) error {
	if c.fail != nil {
		return c.fail
	}
	c.messages = append(c.messages, data)
	return nil
}
func (c *fakeConn) Flush() error { c.flushed = true; return nil }
func (c *fakeConn) Drain() error { c.drained = true; return nil }

type recorder struct {
	records     []*model.PacketRecord
	parseErrors int
}

func (r *recorder) Observe(rec *model.PacketRecord) { r.records = append(r.records, rec) }
func (r *recorder) RecordParseError()               { r.parseErrors++ }
func (r *recorder) RecordSkipped()                  {}

func TestPublisherToSubscriberHandling(t *testing.T) {
	nc := &fakeConn{}
	p := newPublisher(nc, "test")

	p.Observe(fullRecord())
	p.RecordParseError()
	p.RecordSkipped()
	require.NoError(t, p.Finish())
	require.NoError(t, p.Close())
	assert.True(t, nc.flushed)
	assert.True(t, nc.drained)
	assert.NoError(t, p.Err())

	published, parseErrors, skipped := p.Stats()
	assert.Equal(t, uint64(1), published)
	assert.Equal(t, uint64(1), parseErrors)
	assert.Equal(t, uint64(1), skipped)

	// Replay the published payloads plus a corrupt one through the subscriber.
	require.Len(t, nc.messages, 2)
	var rec recorder
	assert.False(t, handleMessage(nc.messages[0], &rec))
	assert.False(t, handleMessage([]byte{0xff}, &rec))
	assert.True(t, handleMessage(nc.messages[1], &rec))
	require.Len(t, rec.records, 1)
	assert.Equal(t, fullRecord(), rec.records[0])
	assert.Equal(t, 1, rec.parseErrors)
}

func TestPublisherKeepsFirstError(t *testing.T) {
	nc := &fakeConn{fail: errors.New("connection closed")}
	p := newPublisher(nc, "test")

	p.Observe(fullRecord())
	p.Observe(fullRecord())
	assert.ErrorContains(t, p.Err(), "connection closed")
	published, _, _ := p.Stats()
	assert.Zero(t, published)
}

type fakeSubscription struct {
	messages     [][]byte
	dropped      int
	unsubscribed bool
}

func (s *fakeSubscription) NextMsgWithContext(ctx context.Context) (*nats.Msg, error) {
	if len(s.messages) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	data := s.messages[0]
	s.messages = s.messages[1:]
	return &nats.Msg{Data: data}, nil
}

func (s *fakeSubscription) Dropped() (int, error) { return s.dropped, nil }

func (s *fakeSubscription) Unsubscribe() error {
	s.unsubscribed = true
	return nil
}

func TestConsumeUntilEndOfStream(t *testing.T) {
	sub := &fakeSubscription{messages: [][]byte{EncodeRecord(fullRecord()), EncodeRecord(fullRecord()), nil}}
	var rec recorder

	require.NoError(t, consume(context.Background(), "test", sub, &rec))
	assert.Len(t, rec.records, 2)
	assert.True(t, sub.unsubscribed)
}

func TestConsumeReportsDroppedMessages(t *testing.T) {
	sub := &fakeSubscription{messages: [][]byte{EncodeRecord(fullRecord()), nil}, dropped: 3}
	var rec recorder

	err := consume(context.Background(), "test", sub, &rec)
	assert.ErrorIs(t, err, model.ErrIncomplete)
	assert.ErrorContains(t, err, "3 messages dropped")
	assert.Len(t, rec.records, 1)
}

func TestConsumeStopsOnCancel(t *testing.T) {
	sub := &fakeSubscription{messages: [][]byte{EncodeRecord(fullRecord())}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var rec recorder

	err := consume(ctx, "test", sub, &rec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, sub.unsubscribed)
}
