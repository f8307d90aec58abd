package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/testutil"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var services = []struct {
	port  uint16
	proto layers.IPProtocol
}{
	{80, layers.IPProtocolTCP},
	{443, layers.IPProtocolTCP},
	{22, layers.IPProtocolTCP},
	{53, layers.IPProtocolUDP},
	{123, layers.IPProtocolUDP},
}

var ttls = []uint8{64, 128, 255, 63, 127}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	packetCount := flag.Int("c", 1000, "Number of packets to generate")
	hostCount := flag.Int("hosts", 16, "Number of distinct hosts")
	seed := flag.Uint64("seed", 1, "Random seed")
	start := flag.Int64("start", 1_700_000_000, "Unix time of the first packet")
	flag.Parse()

	log := logging.WithComponent("pcapgen")
	if *hostCount < 2 {
		log.Fatalf("At least 2 hosts are required, got %d", *hostCount)
	}

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed))
	ts := time.Unix(*start, 0)

	log.Infof("Generating %d packets between %d hosts into %s...", *packetCount, *hostCount, *outputFile)
	for i := range *packetCount {
		if (i+1)%100000 == 0 {
			log.Infof("Generated %d packets...", i+1)
		}

		client := rng.IntN(*hostCount)
		server := rng.IntN(*hostCount - 1)
		if server >= client {
			server++
		}
		svc := services[rng.IntN(len(services))]
		ephemeral := uint16(1024 + rng.IntN(65535-1024))

		p := testutil.Packet{
			Time:    ts,
			SrcMAC:  hostMAC(client),
			DstMAC:  hostMAC(server),
			SrcIP:   hostIP(client),
			DstIP:   hostIP(server),
			SrcPort: ephemeral,
			DstPort: svc.port,
			Proto:   svc.proto,
			TTL:     ttls[client%len(ttls)],
			Payload: 50 + rng.IntN(1400),
		}
		// Roughly half the packets are replies.
		if rng.IntN(2) == 0 {
			p.SrcMAC, p.DstMAC = p.DstMAC, p.SrcMAC
			p.SrcIP, p.DstIP = p.DstIP, p.SrcIP
			p.SrcPort, p.DstPort = p.DstPort, p.SrcPort
			p.TTL = ttls[server%len(ttls)]
		}
		if svc.proto == layers.IPProtocolTCP {
			p.Window = 14600
			if rng.IntN(10) == 0 {
				p.MSS = 1460
			}
		}

		data, err := p.Bytes()
		if err != nil {
			log.Fatalf("Failed to serialize packet %d: %v", i, err)
		}
		if err := w.WritePacket(p.CaptureInfo(data), data); err != nil {
			log.Fatalf("Failed to write packet: %v", err)
		}
		ts = ts.Add(time.Duration(rng.IntN(5000)) * time.Microsecond)
	}

	log.Infof("Successfully generated %d packets into %s.", *packetCount, *outputFile)
}

func hostIP(n int) string {
	v := uint32(n + 1)
	return fmt.Sprintf("10.%d.%d.%d", v>>16&0xff, v>>8&0xff, v&0xff)
}

func hostMAC(n int) string {
	return fmt.Sprintf("02:00:00:%02x:%02x:%02x", n>>16&0xff, n>>8&0xff, n&0xff)
}
