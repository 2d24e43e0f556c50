package engine

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/signalsfoundry/handover-simulator/model"
)

const pcapSnapLen = 65535

// pcapWriter captures the IPv4 datagrams crossing one point-to-point device.
// UDP ports wider than 16 bits keep their low 16 bits on the wire.
type pcapWriter struct {
	path string
	f    *os.File
	buf  *bufio.Writer
	w    *pcapgo.Writer
}

func newPcapWriter(path string) (*pcapWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(pcapSnapLen, layers.LinkTypeRaw); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &pcapWriter{path: path, f: f, buf: buf, w: w}, nil
}

// Write records pkt at simulation time t.
func (p *pcapWriter) Write(t time.Duration, pkt *packet) error {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       uint16(pkt.uid),
		Protocol: layers.IPProtocolUDP,
		SrcIP:    pkt.src.AsSlice(),
		DstIP:    pkt.dst.AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(uint16(pkt.srcPort)),
		DstPort: layers.UDPPort(uint16(pkt.dstPort)),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(seqTsPayload(pkt))); err != nil {
		return fmt.Errorf("serialize packet %d: %w", pkt.uid, err)
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, 0).UTC().Add(t),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return p.w.WritePacket(ci, data)
}

func (p *pcapWriter) Flush() error {
	return p.buf.Flush()
}

func (p *pcapWriter) Close() error {
	ferr := p.buf.Flush()
	cerr := p.f.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// seqTsPayload builds a UDP client payload: 32-bit sequence number, 64-bit
// send timestamp in nanoseconds, zero padding.
func seqTsPayload(pkt *packet) []byte {
	b := make([]byte, pkt.size)
	binary.BigEndian.PutUint32(b[0:4], pkt.seq)
	binary.BigEndian.PutUint64(b[4:model.SeqTsHeaderSize], uint64(pkt.sentAt.Nanoseconds()))
	return b
}

// PcapPath returns the capture file name used for a node device.
func PcapPath(dir, prefix string, node model.NodeID, device int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d-%d.pcap", prefix, node, device))
}

// EnablePcap starts capturing on a point-to-point device into
// <prefix>-<node>-<device>.pcap under the output directory.
func (s *Simulator) EnablePcap(prefix string, id model.NodeID, devIndex int) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	dev, err := n.device(devIndex)
	if err != nil {
		return err
	}
	if dev.kind != devPointToPoint {
		return fmt.Errorf("%w: node %d device %d is not point-to-point", ErrUnknownDevice, id, devIndex)
	}
	if dev.link.pcap[dev.end] != nil {
		return fmt.Errorf("%w: already capturing node %d device %d", ErrTelemetry, id, devIndex)
	}
	w, err := newPcapWriter(PcapPath(s.outputDir, prefix, id, devIndex))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTelemetry, err)
	}
	dev.link.pcap[dev.end] = w
	s.pcaps = append(s.pcaps, w)
	return nil
}
