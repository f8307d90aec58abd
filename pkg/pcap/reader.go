// Package pcap reads capture files with the pure-Go pcapgo decoders.
package pcap

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"Go2NetStats/internal/engine/protocol"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const pcapngMagic = 0x0A0D0D0A

// ctxCheckEvery is how many packets are read between cancellation checks.
const ctxCheckEvery = 1024

type packetDataReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader reads packets from a pcap or pcapng file. It implements
// model.Source and model.OriginProvider.
type Reader struct {
	path   string
	file   *os.File
	reader packetDataReader
}

// NewReader opens the capture file at filePath and validates its header.
func NewReader(filePath string) (*Reader, error) {
	file, reader, err := open(filePath)
	if err != nil {
		return nil, err
	}
	return &Reader{path: filePath, file: file, reader: reader}, nil
}

func open(filePath string) (*os.File, packetDataReader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	buffered := bufio.NewReader(file)
	magic, err := buffered.Peek(4)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to read capture header of '%s': %w", filePath, err)
	}

	var reader packetDataReader
	if binary.BigEndian.Uint32(magic) == pcapngMagic {
		reader, err = pcapgo.NewNgReader(buffered, pcapgo.DefaultNgReaderOptions)
	} else {
		reader, err = pcapgo.NewReader(buffered)
	}
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to parse capture header of '%s': %w", filePath, err)
	}
	return file, reader, nil
}

// Name returns the file path.
func (r *Reader) Name() string {
	return r.path
}

// LinkType returns the link type announced by the file header.
func (r *Reader) LinkType() layers.LinkType {
	return r.reader.LinkType()
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Run decodes every packet of the file and feeds it to obs. Undecodable
// packets are counted, not fatal. A truncated trailing record ends the
// stream and is counted as a parse error.
func (r *Reader) Run(ctx context.Context, obs model.Observer) error {
	log := logging.WithComponent("pcap-reader")
	link := r.reader.LinkType()

	for n := 0; ; n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		data, ci, err := r.reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			log.Warnf("Capture file '%s' ends with a truncated record after %d packets", r.path, n)
			obs.RecordParseError()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet %d from '%s': %w", n, r.path, err)
		}

		rec, err := protocol.ParsePacket(data, link, ci)
		switch {
		case err == nil:
			obs.Observe(rec)
		case errors.Is(err, protocol.ErrUnsupported):
			obs.RecordSkipped()
		default:
			log.Debugf("Error parsing packet %d: %v", n, err)
			obs.RecordParseError()
		}
	}
}

// FirstTimestamp returns the timestamp of the first decodable packet. It
// reads through a separate handle and leaves the Run stream untouched.
func (r *Reader) FirstTimestamp() (int64, bool, error) {
	file, reader, err := open(r.path)
	if err != nil {
		return 0, false, err
	}
	defer file.Close()

	link := reader.LinkType()
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("failed to read packet from '%s': %w", r.path, err)
		}
		if rec, err := protocol.ParsePacket(data, link, ci); err == nil {
			return rec.Timestamp, true, nil
		}
	}
}
