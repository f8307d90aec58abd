package protocol

import (
	"net/netip"
	"testing"
	"time"

	"Go2NetStats/internal/model"
	"Go2NetStats/internal/testutil"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, p testutil.Packet) ([]byte, *model.PacketRecord) {
	t.Helper()
	data, err := p.Bytes()
	require.NoError(t, err)
	rec, err := ParsePacket(data, layers.LinkTypeEthernet, p.CaptureInfo(data))
	require.NoError(t, err)
	return data, rec
}

func TestParsePacketTCPWithMSS(t *testing.T) {
	ts := time.Unix(1700000000, 123456000)
	data, rec := parse(t, testutil.Packet{
		Time:    ts,
		SrcIP:   "192.168.0.1",
		DstIP:   "8.8.8.8",
		SrcPort: 12345,
		DstPort: 443,
		TTL:     64,
		ToS:     0x10,
		Window:  14600,
		MSS:     1460,
		Payload: 100,
	})

	assert.Equal(t, ts.UnixMicro(), rec.Timestamp)
	assert.Equal(t, uint32(len(data)), rec.Length)
	assert.Equal(t, netip.MustParseAddr("192.168.0.1"), rec.SrcIP)
	assert.Equal(t, netip.MustParseAddr("8.8.8.8"), rec.DstIP)
	assert.Equal(t, testutil.DefaultSrcMAC, rec.SrcMAC.String())
	assert.Equal(t, testutil.DefaultDstMAC, rec.DstMAC.String())
	assert.Equal(t, uint16(12345), rec.SrcPort)
	assert.Equal(t, uint16(443), rec.DstPort)
	assert.Equal(t, uint8(layers.IPProtocolTCP), rec.Protocol)
	assert.Equal(t, uint8(64), rec.TTL)
	assert.Equal(t, uint8(0x10), rec.ToS)
	assert.True(t, rec.HasWindow)
	assert.Equal(t, uint16(14600), rec.Window)
	assert.True(t, rec.HasMSS)
	assert.Equal(t, uint16(1460), rec.MSS)
}

func TestParsePacketUDPHasNoTCPFields(t *testing.T) {
	_, rec := parse(t, testutil.Packet{
		Time:    time.Unix(10, 0),
		SrcIP:   "10.0.0.1",
		DstIP:   "10.0.0.53",
		SrcPort: 5353,
		DstPort: 53,
		Proto:   layers.IPProtocolUDP,
		TTL:     128,
		Payload: 30,
	})

	assert.Equal(t, uint8(layers.IPProtocolUDP), rec.Protocol)
	assert.Equal(t, uint16(53), rec.DstPort)
	assert.False(t, rec.HasMSS)
	assert.False(t, rec.HasWindow)
}

func TestParsePacketICMPHasNoPorts(t *testing.T) {
	_, res := parse(t, testutil.Packet{
		Time:  time.Unix(10, 0),
		SrcIP: "10.0.0.1",
		DstIP: "10.0.0.2",
		Proto: layers.IPProtocolICMPv4,
		TTL:   255,
	})
	assert.Equal(t, uint8(layers.IPProtocolICMPv4), res.Protocol)
	assert.Zero(t, res.SrcPort)
	assert.Zero(t, res.DstPort)
}

func TestParsePacketIPv6(t *testing.T) {
	_, res := parse(t, testutil.Packet{
		Time:    time.Unix(10, 0),
		SrcIP:   "2001:db8::1",
		DstIP:   "2001:db8::2",
		SrcPort: 40000,
		DstPort: 80,
		TTL:     60,
		ToS:     0x20,
		Window:  512,
	})
	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), res.SrcIP)
	assert.Equal(t, uint8(60), res.TTL)
	assert.Equal(t, uint8(0x20), res.ToS)
	assert.Equal(t, uint8(layers.IPProtocolTCP), res.Protocol)
}

func TestParsePacketTruncatedTCPIsMalformed(t *testing.T) {
	p := testutil.Packet{Time: time.Unix(10, 0), SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1, DstPort: 2, TTL: 64}
	data, err := p.Bytes()
	require.NoError(t, err)

	cut := data[:14+20+8] // Ethernet + IPv4 + partial TCP header
	_, err = ParsePacket(cut, layers.LinkTypeEthernet, gopacket.CaptureInfo{Timestamp: p.Time})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParsePacketGarbageIPIsMalformed(t *testing.T) {
	p := testutil.Packet{Time: time.Unix(10, 0), SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1, DstPort: 2, TTL: 64}
	data, err := p.Bytes()
	require.NoError(t, err)

	cut := data[:14+6] // Ethernet announcing IPv4, followed by a stub
	_, err = ParsePacket(cut, layers.LinkTypeEthernet, gopacket.CaptureInfo{Timestamp: p.Time})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParsePacketARPIsUnsupported(t *testing.T) {
	data, err := testutil.ARPFrame()
	require.NoError(t, err)

	_, err = ParsePacket(data, layers.LinkTypeEthernet, gopacket.CaptureInfo{Timestamp: time.Unix(1, 0)})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.NotErrorIs(t, err, ErrMalformed)
}
