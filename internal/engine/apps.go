package engine

import (
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/signalsfoundry/handover-simulator/model"
)

// First source port handed to UDP clients on a node.
const ephemeralPortBase = 49153

type sinkKey struct {
	node model.NodeID
	port uint32
}

type udpClient struct {
	node    *simNode
	cfg     UdpClientConfig
	dir     Direction
	srcPort uint32
	sent    uint32
}

type packetSink struct {
	node     *simNode
	port     uint32
	start    time.Duration
	received uint64
	bytes    uint64
}

// SinkStats is the delivery count of one packet sink.
type SinkStats struct {
	Node     model.NodeID
	Port     uint32
	Received uint64
	Bytes    uint64
}

// Summary aggregates a run for logging and tests.
type Summary struct {
	Sent               map[Direction]uint64
	Received           map[Direction]uint64
	Dropped            uint64
	HandoversStarted   int
	HandoversCompleted int
	HandoversRejected  int
	Sinks              []SinkStats
}

// InstallUdpClient installs a fixed-rate datagram source on a node. Clients
// on UEs send uplink; clients elsewhere send downlink.
func (s *Simulator) InstallUdpClient(id model.NodeID, cfg UdpClientConfig) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	switch {
	case !cfg.Remote.IsValid() || !cfg.Remote.Is4():
		return fmt.Errorf("%w: remote address %s", ErrInvalidApp, cfg.Remote)
	case cfg.Port == 0:
		return fmt.Errorf("%w: zero destination port", ErrInvalidApp)
	case cfg.Interval <= 0:
		return fmt.Errorf("%w: interval %s", ErrInvalidApp, cfg.Interval)
	case cfg.MaxPackets == 0:
		return fmt.Errorf("%w: zero packet ceiling", ErrInvalidApp)
	case cfg.PacketSize < model.SeqTsHeaderSize:
		return fmt.Errorf("%w: packet size %d below header size %d", ErrInvalidApp, cfg.PacketSize, model.SeqTsHeaderSize)
	case cfg.Start < 0:
		return fmt.Errorf("%w: negative start %s", ErrInvalidApp, cfg.Start)
	}

	dir := Downlink
	if n.node.Kind == model.NodeKindUe {
		dir = Uplink
	}
	onNode := 0
	for _, c := range s.clients {
		if c.node == n {
			onNode++
		}
	}
	s.clients = append(s.clients, &udpClient{
		node:    n,
		cfg:     cfg,
		dir:     dir,
		srcPort: uint32(ephemeralPortBase + onNode),
	})
	return nil
}

// InstallPacketSink installs a datagram receiver on a node port.
func (s *Simulator) InstallPacketSink(id model.NodeID, cfg PacketSinkConfig) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	if cfg.Port == 0 || cfg.Start < 0 {
		return fmt.Errorf("%w: sink port %d start %s", ErrInvalidApp, cfg.Port, cfg.Start)
	}
	key := sinkKey{node: id, port: cfg.Port}
	if _, exists := s.sinks[key]; exists {
		return fmt.Errorf("%w: node %d port %d", ErrPortInUse, id, cfg.Port)
	}
	s.sinks[key] = &packetSink{node: n, port: cfg.Port, start: cfg.Start}
	return nil
}

func (s *Simulator) startClient(c *udpClient) {
	var send func()
	send = func() {
		if c.sent >= c.cfg.MaxPackets {
			return
		}
		s.emit(c)
		if c.sent < c.cfg.MaxPackets {
			s.after(c.cfg.Interval, send)
		}
	}
	s.at(c.cfg.Start, send)
}

func (s *Simulator) emit(c *udpClient) {
	src, ok := s.sourceAddress(c.node, c.cfg.Remote)
	pkt := &packet{
		uid:     s.nextUID,
		dir:     c.dir,
		src:     src,
		dst:     c.cfg.Remote,
		srcPort: c.srcPort,
		dstPort: c.cfg.Port,
		size:    c.cfg.PacketSize,
		seq:     c.sent,
		sentAt:  s.Now(),
		via:     model.InvalidNodeID,
	}
	s.nextUID++
	c.sent++
	s.sent[c.dir]++
	s.rec.PacketSent(c.dir.String(), int(pkt.size))
	if !ok {
		s.drop(pkt, "no_source_address")
		return
	}
	s.ipSend(c.node, pkt)
}

// sourceAddress picks the address of the device a datagram to dst leaves by.
func (s *Simulator) sourceAddress(n *simNode, dst netip.Addr) (netip.Addr, bool) {
	if dev, ok := s.lookupRoute(n, dst); ok && dev.addr.IsValid() {
		return dev.addr.Addr(), true
	}
	for _, d := range n.devices {
		if d.addr.IsValid() {
			return d.addr.Addr(), true
		}
	}
	return netip.Addr{}, false
}

func (s *Simulator) deliver(n *simNode, pkt *packet) {
	sink, ok := s.sinks[sinkKey{node: n.node.ID, port: pkt.dstPort}]
	if !ok {
		s.drop(pkt, "no_sink")
		return
	}
	now := s.Now()
	if now < sink.start {
		s.drop(pkt, "sink_not_started")
		return
	}
	sink.received++
	sink.bytes += uint64(pkt.size)
	s.received[pkt.dir]++
	s.rec.PacketReceived(pkt.dir.String(), int(pkt.size), now-pkt.sentAt)
}

// Summary returns the run totals. It remains valid after Destroy.
func (s *Simulator) Summary() Summary {
	out := Summary{
		Sent:               map[Direction]uint64{Downlink: s.sent[Downlink], Uplink: s.sent[Uplink]},
		Received:           map[Direction]uint64{Downlink: s.received[Downlink], Uplink: s.received[Uplink]},
		Dropped:            s.dropped,
		HandoversStarted:   s.handover.started,
		HandoversCompleted: s.handover.completed,
		HandoversRejected:  s.handover.rejected,
		Sinks:              append([]SinkStats(nil), s.sinkSnapshot...),
	}
	if s.sinks != nil {
		out.Sinks = s.snapshotSinks()
	}
	return out
}

func (s *Simulator) snapshotSinks() []SinkStats {
	out := make([]SinkStats, 0, len(s.sinks))
	for key, sink := range s.sinks {
		out = append(out, SinkStats{Node: key.node, Port: key.port, Received: sink.received, Bytes: sink.bytes})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].Port < out[j].Port
	})
	return out
}
