package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"

	"Go2NetStats/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrMalformed marks packets that failed to decode or were truncated.
	ErrMalformed = errors.New("malformed packet")
	// ErrUnsupported marks well-formed frames that carry no IP packet.
	ErrUnsupported = errors.New("unsupported packet")
)

// ParsePacket decodes raw frame bytes with the given link decoder and normalizes them.
func ParsePacket(data []byte, link gopacket.Decoder, ci gopacket.CaptureInfo) (*model.PacketRecord, error) {
	packet := gopacket.NewPacket(data, link, gopacket.Default)
	md := packet.Metadata()
	md.CaptureInfo = ci
	if md.Length == 0 {
		md.Length = len(data)
	}
	if md.CaptureLength == 0 {
		md.CaptureLength = len(data)
	}
	return Normalize(packet)
}

// Normalize extracts the canonical PacketRecord fields from a decoded packet.
func Normalize(packet gopacket.Packet) (*model.PacketRecord, error) {
	rec := &model.PacketRecord{Length: uint32(len(packet.Data()))}

	// Snaplen truncation is not an error as long as the headers decode.
	if md := packet.Metadata(); md != nil {
		rec.Timestamp = md.Timestamp.UnixMicro()
		if md.Length > 0 {
			rec.Length = uint32(md.Length)
		}
	}

	if l := packet.Layer(layers.LayerTypeEthernet); l != nil {
		eth := l.(*layers.Ethernet)
		rec.SrcMAC = slices.Clone(eth.SrcMAC)
		rec.DstMAC = slices.Clone(eth.DstMAC)
	}

	fragment := false
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		src, dst, err := addrPair(ip.SrcIP, ip.DstIP)
		if err != nil {
			return nil, err
		}
		rec.SrcIP, rec.DstIP = src, dst
		rec.Protocol = uint8(ip.Protocol)
		rec.TTL = ip.TTL
		rec.ToS = ip.TOS
		fragment = ip.FragOffset != 0
	case *layers.IPv6:
		src, dst, err := addrPair(ip.SrcIP, ip.DstIP)
		if err != nil {
			return nil, err
		}
		rec.SrcIP, rec.DstIP = src, dst
		rec.Protocol = uint8(ip.NextHeader)
		rec.TTL = ip.HopLimit
		rec.ToS = ip.TrafficClass
	default:
		if expectsIP(packet) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, decodeError(packet))
		}
		return nil, ErrUnsupported
	}

	switch t := packet.TransportLayer().(type) {
	case *layers.TCP:
		rec.Protocol = uint8(layers.IPProtocolTCP)
		rec.SrcPort = uint16(t.SrcPort)
		rec.DstPort = uint16(t.DstPort)
		rec.Window = t.Window
		rec.HasWindow = true
		rec.MSS, rec.HasMSS = mssOption(t.Options)
	case *layers.UDP:
		rec.Protocol = uint8(layers.IPProtocolUDP)
		rec.SrcPort = uint16(t.SrcPort)
		rec.DstPort = uint16(t.DstPort)
	case *layers.SCTP:
		rec.Protocol = uint8(layers.IPProtocolSCTP)
		rec.SrcPort = uint16(t.SrcPort)
		rec.DstPort = uint16(t.DstPort)
	default:
		// A TCP or UDP header that should be there but did not decode.
		proto := layers.IPProtocol(rec.Protocol)
		if !fragment && (proto == layers.IPProtocolTCP || proto == layers.IPProtocolUDP) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, decodeError(packet))
		}
	}

	return rec, nil
}

func addrPair(src, dst net.IP) (netip.Addr, netip.Addr, error) {
	s, ok1 := netip.AddrFromSlice(src)
	d, ok2 := netip.AddrFromSlice(dst)
	if !ok1 || !ok2 {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: invalid address", ErrMalformed)
	}
	return s.Unmap(), d.Unmap(), nil
}

// mssOption returns the MSS carried in TCP options, if any.
func mssOption(opts []layers.TCPOption) (uint16, bool) {
	for _, opt := range opts {
		if opt.OptionType == layers.TCPOptionKindMSS && len(opt.OptionData) == 2 {
			return binary.BigEndian.Uint16(opt.OptionData), true
		}
	}
	return 0, false
}

// expectsIP reports whether the frame announced an IP payload that failed to decode.
func expectsIP(packet gopacket.Packet) bool {
	if l := packet.Layer(layers.LayerTypeDot1Q); l != nil {
		t := l.(*layers.Dot1Q).Type
		return t == layers.EthernetTypeIPv4 || t == layers.EthernetTypeIPv6
	}
	if l := packet.Layer(layers.LayerTypeEthernet); l != nil {
		t := l.(*layers.Ethernet).EthernetType
		return t == layers.EthernetTypeIPv4 || t == layers.EthernetTypeIPv6
	}
	return packet.LinkLayer() == nil && packet.ErrorLayer() != nil
}

func decodeError(packet gopacket.Packet) error {
	if el := packet.ErrorLayer(); el != nil {
		return el.Error()
	}
	return errors.New("missing layer")
}
