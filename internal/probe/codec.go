package probe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"Go2NetStats/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the PacketRecord wire message.
const (
	fieldTimestamp protowire.Number = iota + 1
	fieldLength
	fieldSrcIP
	fieldDstIP
	fieldSrcMAC
	fieldDstMAC
	fieldSrcPort
	fieldDstPort
	fieldProtocol
	fieldTTL
	fieldToS
	fieldMSS
	fieldWindow
)

// ErrInvalidRecord is returned for payloads that are not a valid record.
var ErrInvalidRecord = errors.New("invalid packet record payload")

// EncodeRecord serializes rec in protobuf wire format. MSS and window are
// only emitted when present, so their absence survives the round trip.
func EncodeRecord(rec *model.PacketRecord) []byte {
	b := make([]byte, 0, 64)
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(rec.Timestamp))
	b = appendVarint(b, fieldLength, uint64(rec.Length))
	b = appendBytes(b, fieldSrcIP, rec.SrcIP.AsSlice())
	b = appendBytes(b, fieldDstIP, rec.DstIP.AsSlice())
	b = appendBytes(b, fieldSrcMAC, rec.SrcMAC)
	b = appendBytes(b, fieldDstMAC, rec.DstMAC)
	b = appendVarint(b, fieldSrcPort, uint64(rec.SrcPort))
	b = appendVarint(b, fieldDstPort, uint64(rec.DstPort))
	b = appendVarint(b, fieldProtocol, uint64(rec.Protocol))
	b = appendVarint(b, fieldTTL, uint64(rec.TTL))
	b = appendVarint(b, fieldToS, uint64(rec.ToS))
	if rec.HasMSS {
		b = protowire.AppendTag(b, fieldMSS, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rec.MSS))
	}
	if rec.HasWindow {
		b = protowire.AppendTag(b, fieldWindow, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rec.Window))
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// DecodeRecord parses a payload produced by EncodeRecord. Unknown fields are
// skipped.
func DecodeRecord(data []byte) (*model.PacketRecord, error) {
	rec := &model.PacketRecord{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrInvalidRecord, num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := setVarint(rec, num, v); err != nil {
				return nil, err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrInvalidRecord, num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := setBytes(rec, num, v); err != nil {
				return nil, err
			}
		default:
			if num >= fieldTimestamp && num <= fieldWindow {
				return nil, fmt.Errorf("%w: field %d has wire type %d", ErrInvalidRecord, num, typ)
			}
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrInvalidRecord, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !rec.SrcIP.IsValid() || !rec.DstIP.IsValid() {
		return nil, fmt.Errorf("%w: missing address", ErrInvalidRecord)
	}
	return rec, nil
}

func setVarint(rec *model.PacketRecord, num protowire.Number, v uint64) error {
	switch num {
	case fieldSrcIP, fieldDstIP, fieldSrcMAC, fieldDstMAC:
		return fmt.Errorf("%w: field %d must be bytes", ErrInvalidRecord, num)
	case fieldTimestamp:
		rec.Timestamp = protowire.DecodeZigZag(v)
		return nil
	case fieldLength:
		if v > 1<<32-1 {
			return fmt.Errorf("%w: length %d out of range", ErrInvalidRecord, v)
		}
		rec.Length = uint32(v)
		return nil
	}
	if num < fieldSrcPort || num > fieldWindow {
		return nil
	}

	limit := uint64(1<<16 - 1)
	if num == fieldProtocol || num == fieldTTL || num == fieldToS {
		limit = 1<<8 - 1
	}
	if v > limit {
		return fmt.Errorf("%w: field %d value %d out of range", ErrInvalidRecord, num, v)
	}
	switch num {
	case fieldSrcPort:
		rec.SrcPort = uint16(v)
	case fieldDstPort:
		rec.DstPort = uint16(v)
	case fieldProtocol:
		rec.Protocol = uint8(v)
	case fieldTTL:
		rec.TTL = uint8(v)
	case fieldToS:
		rec.ToS = uint8(v)
	case fieldMSS:
		rec.MSS, rec.HasMSS = uint16(v), true
	case fieldWindow:
		rec.Window, rec.HasWindow = uint16(v), true
	}
	return nil
}

func setBytes(rec *model.PacketRecord, num protowire.Number, v []byte) error {
	switch num {
	case fieldSrcIP, fieldDstIP:
		addr, ok := netip.AddrFromSlice(v)
		if !ok {
			return fmt.Errorf("%w: field %d is not an address", ErrInvalidRecord, num)
		}
		// 4-in-6 senders must land on the same host key as native IPv4.
		addr = addr.Unmap()
		if num == fieldSrcIP {
			rec.SrcIP = addr
		} else {
			rec.DstIP = addr
		}
	case fieldSrcMAC:
		rec.SrcMAC = net.HardwareAddr(append([]byte(nil), v...))
	case fieldDstMAC:
		rec.DstMAC = net.HardwareAddr(append([]byte(nil), v...))
	default:
		if num >= fieldTimestamp && num <= fieldWindow {
			return fmt.Errorf("%w: field %d must be a varint", ErrInvalidRecord, num)
		}
	}
	return nil
}
