// Package capture feeds packets from libpcap handles, which add BPF
// filtering and live interfaces on top of what pkg/pcap offers.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"Go2NetStats/internal/engine/protocol"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// Handle is a libpcap backed packet source.
type Handle struct {
	name   string
	handle *pcap.Handle
}

// OpenOffline opens a capture file through libpcap and installs filter when
// it is not empty.
func OpenOffline(filePath, filter string) (*Handle, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	return withFilter(filePath, handle, filter)
}

// OpenLive opens a network interface for capturing. The handle returns from
// Run when ctx is cancelled.
func OpenLive(device string, snaplen int32, promisc bool, filter string) (*Handle, error) {
	handle, err := pcap.OpenLive(device, snaplen, promisc, 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface '%s': %w", device, err)
	}
	return withFilter(device, handle, filter)
}

func withFilter(name string, handle *pcap.Handle, filter string) (*Handle, error) {
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
		}
	}
	return &Handle{name: name, handle: handle}, nil
}

func (h *Handle) Name() string { return h.name }

// Close closes the pcap handle.
func (h *Handle) Close() {
	h.handle.Close()
}

// Run reads until the file ends or ctx is cancelled.
func (h *Handle) Run(ctx context.Context, obs model.Observer) error {
	log := logging.WithComponent("capture")
	source := gopacket.NewPacketSource(h.handle, h.handle.LinkType())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		packet, err := source.NextPacket()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case err != nil:
			return fmt.Errorf("failed to read packet from '%s': %w", h.name, err)
		}

		rec, err := protocol.Normalize(packet)
		switch {
		case err == nil:
			obs.Observe(rec)
		case errors.Is(err, protocol.ErrUnsupported):
			obs.RecordSkipped()
		default:
			log.Debugf("Error parsing packet: %v", err)
			obs.RecordParseError()
		}
	}
}
