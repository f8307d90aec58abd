// Package testutil builds synthetic frames and capture files for tests.
package testutil

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Packet describes a synthetic Ethernet frame.
type Packet struct {
	Time    time.Time
	SrcMAC  string
	DstMAC  string
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
	Proto   layers.IPProtocol
	TTL     uint8
	ToS     uint8
	Window  uint16
	MSS     uint16 // zero means no MSS option
	Payload int
}

const (
	DefaultSrcMAC = "00:11:22:33:44:55"
	DefaultDstMAC = "00:66:77:88:99:aa"
)

// Bytes serializes the packet into frame bytes.
func (p Packet) Bytes() ([]byte, error) {
	srcMAC, dstMAC := p.SrcMAC, p.DstMAC
	if srcMAC == "" {
		srcMAC = DefaultSrcMAC
	}
	if dstMAC == "" {
		dstMAC = DefaultDstMAC
	}
	smac, err := net.ParseMAC(srcMAC)
	if err != nil {
		return nil, err
	}
	dmac, err := net.ParseMAC(dstMAC)
	if err != nil {
		return nil, err
	}
	src, dst := net.ParseIP(p.SrcIP), net.ParseIP(p.DstIP)
	if src == nil || dst == nil {
		return nil, fmt.Errorf("invalid address pair %q -> %q", p.SrcIP, p.DstIP)
	}
	proto := p.Proto
	if proto == 0 {
		proto = layers.IPProtocolTCP
	}

	eth := &layers.Ethernet{SrcMAC: smac, DstMAC: dmac}
	var network gopacket.NetworkLayer
	var ipLayer gopacket.SerializableLayer
	if src.To4() != nil {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{
			Version:  4,
			SrcIP:    src.To4(),
			DstIP:    dst.To4(),
			TTL:      p.TTL,
			TOS:      p.ToS,
			Protocol: proto,
		}
		network, ipLayer = ip, ip
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{
			Version:      6,
			SrcIP:        src,
			DstIP:        dst,
			HopLimit:     p.TTL,
			TrafficClass: p.ToS,
			NextHeader:   proto,
		}
		network, ipLayer = ip, ip
	}

	stack := []gopacket.SerializableLayer{eth, ipLayer}
	switch proto {
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(p.SrcPort),
			DstPort: layers.TCPPort(p.DstPort),
			Window:  p.Window,
			ACK:     true,
		}
		if p.MSS != 0 {
			data := make([]byte, 2)
			binary.BigEndian.PutUint16(data, p.MSS)
			tcp.SYN = true
			tcp.Options = []layers.TCPOption{{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: data}}
		}
		if err := tcp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		stack = append(stack, tcp)
	case layers.IPProtocolUDP:
		udp := &layers.UDP{SrcPort: layers.UDPPort(p.SrcPort), DstPort: layers.UDPPort(p.DstPort)}
		if err := udp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		stack = append(stack, udp)
	case layers.IPProtocolICMPv4:
		stack = append(stack, &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)})
	}
	stack = append(stack, gopacket.Payload(make([]byte, p.Payload)))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CaptureInfo returns the capture metadata for frame bytes of p.
func (p Packet) CaptureInfo(data []byte) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{Timestamp: p.Time, CaptureLength: len(data), Length: len(data)}
}

// Frame is a pre-serialized frame with its capture metadata.
type Frame struct {
	Data []byte
	CI   gopacket.CaptureInfo
}

// WritePcap writes the packets into a classic pcap file with Ethernet link type.
func WritePcap(path string, packets []Packet) error {
	frames := make([]Frame, 0, len(packets))
	for _, p := range packets {
		data, err := p.Bytes()
		if err != nil {
			return err
		}
		frames = append(frames, Frame{Data: data, CI: p.CaptureInfo(data)})
	}
	return WriteFrames(path, frames)
}

// WriteFrames writes raw frames into a classic pcap file with Ethernet link type.
func WriteFrames(path string, frames []Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return err
	}
	for _, fr := range frames {
		if err := w.WritePacket(fr.CI, fr.Data); err != nil {
			return err
		}
	}
	return nil
}

// ARPFrame returns a well-formed ARP request frame.
func ARPFrame() ([]byte, error) {
	smac, _ := net.ParseMAC(DefaultSrcMAC)
	eth := &layers.Ethernet{SrcMAC: smac, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   smac,
		SourceProtAddress: net.IPv4(10, 0, 0, 1).To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    net.IPv4(10, 0, 0, 2).To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
