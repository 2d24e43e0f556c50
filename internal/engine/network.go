package engine

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/model"
)

// IP and UDP header bytes added to every datagram payload on the wire.
const ipUdpHeaderSize = 28

type deviceKind int

const (
	devPointToPoint deviceKind = iota + 1
	devTunnel                  // gateway's UE-facing device
	devEnbRadio
	devUeRadio
)

type device struct {
	index int
	kind  deviceKind
	addr  netip.Prefix
	link  *p2pLink
	end   int // which end of link this device is
}

type route struct {
	dst     netip.Prefix
	gateway netip.Addr
	device  int
}

type p2pLink struct {
	nodes     [2]*simNode
	devices   [2]*device
	rateBps   uint64
	mtu       uint32
	delay     time.Duration
	busyUntil [2]time.Duration
	pcap      [2]*pcapWriter
}

type packet struct {
	uid      uint64
	dir      Direction
	src, dst netip.Addr
	srcPort  uint32
	dstPort  uint32
	size     uint32 // UDP payload bytes
	seq      uint32
	sentAt   time.Duration
	lcid     uint8
	imsi     uint64
	pdcpTxAt time.Duration
	rlcTxAt  time.Duration
	// via is the eNB that received the packet from the gateway.
	via       model.NodeID
	forwarded bool
}

func (p *packet) ipSize() uint32 { return p.size + ipUdpHeaderSize }

// ParseDataRate converts strings such as "100Gb/s", "10Mbps" or "1500B/s"
// to bits per second.
func ParseDataRate(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDataRate, s)
	}
	value, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidDataRate, s, err)
	}
	unit := strings.TrimSpace(s[i:])
	mult, ok := dataRateUnits[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidDataRate, unit)
	}
	bps := value * mult
	if bps <= 0 {
		return 0, fmt.Errorf("%w: %q is not positive", ErrInvalidDataRate, s)
	}
	return uint64(bps), nil
}

var dataRateUnits = map[string]float64{
	"bps": 1, "b/s": 1,
	"kbps": 1e3, "kb/s": 1e3, "Kbps": 1e3, "Kb/s": 1e3,
	"Mbps": 1e6, "Mb/s": 1e6,
	"Gbps": 1e9, "Gb/s": 1e9,
	"Bps": 8, "B/s": 8,
	"KBps": 8e3, "KB/s": 8e3, "kBps": 8e3, "kB/s": 8e3,
	"MBps": 8e6, "MB/s": 8e6,
	"GBps": 8e9, "GB/s": 8e9,
}

// InstallGateway turns pgw into the packet gateway of the radio network and
// returns its UE-facing device.
func (s *Simulator) InstallGateway(pgw model.NodeID) (int, error) {
	if err := s.checkBuild(); err != nil {
		return 0, err
	}
	n, err := s.lookupKind(pgw, model.NodeKindPgw)
	if err != nil {
		return 0, err
	}
	if s.gateway != model.InvalidNodeID {
		return 0, fmt.Errorf("%w: gateway already installed on node %d", ErrDeviceExists, s.gateway)
	}
	dev := n.addDevice(devTunnel)
	s.gateway = pgw
	s.gatewayDev = dev.index
	return dev.index, nil
}

// InstallPointToPoint connects a and b with a wired link and returns the new
// device index on each side.
func (s *Simulator) InstallPointToPoint(a, b model.NodeID, cfg PointToPointConfig) (int, int, error) {
	if err := s.checkBuild(); err != nil {
		return 0, 0, err
	}
	if a == b {
		return 0, 0, fmt.Errorf("%w: point-to-point link from node %d to itself", ErrWrongNodeKind, a)
	}
	na, err := s.lookup(a)
	if err != nil {
		return 0, 0, err
	}
	nb, err := s.lookup(b)
	if err != nil {
		return 0, 0, err
	}
	rate, err := ParseDataRate(cfg.DataRate)
	if err != nil {
		return 0, 0, err
	}
	if cfg.MTU == 0 || cfg.Delay < 0 {
		return 0, 0, fmt.Errorf("%w: mtu=%d delay=%s", ErrInvalidDataRate, cfg.MTU, cfg.Delay)
	}

	link := &p2pLink{rateBps: rate, mtu: cfg.MTU, delay: cfg.Delay}
	da := na.addDevice(devPointToPoint)
	db := nb.addDevice(devPointToPoint)
	da.link, da.end = link, 0
	db.link, db.end = link, 1
	link.nodes = [2]*simNode{na, nb}
	link.devices = [2]*device{da, db}
	s.links = append(s.links, link)
	return da.index, db.index, nil
}

// AssignAddress gives a device its single IPv4 address. Addressing a UE
// radio device also registers the UE with the gateway.
func (s *Simulator) AssignAddress(id model.NodeID, devIndex int, addr netip.Prefix) error {
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
	if !addr.IsValid() || !addr.Addr().Is4() {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	if dev.addr.IsValid() {
		return fmt.Errorf("%w: node %d device %d has %s", ErrAddressConflict, id, devIndex, dev.addr)
	}
	for _, other := range s.order {
		if s.nodes[other].ownsAddress(addr.Addr()) {
			return fmt.Errorf("%w: %s on node %d", ErrAddressConflict, addr.Addr(), other)
		}
	}
	dev.addr = addr
	if dev.kind == devUeRadio {
		s.ueByAddr[addr.Addr()] = id
	}
	return nil
}

// AddRoute installs a static route. An unset gateway makes the route
// on-link through the device.
func (s *Simulator) AddRoute(id model.NodeID, dst netip.Prefix, gateway netip.Addr, devIndex int) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	if _, err := n.device(devIndex); err != nil {
		return err
	}
	if !dst.IsValid() {
		return fmt.Errorf("%w: route destination %s", ErrInvalidAddress, dst)
	}
	n.routes = append(n.routes, route{dst: dst.Masked(), gateway: gateway, device: devIndex})
	return nil
}

// lookupRoute picks the outgoing device for dst by longest prefix over the
// node's connected networks and static routes.
func (s *Simulator) lookupRoute(n *simNode, dst netip.Addr) (*device, bool) {
	best := -1
	var out *device
	for _, d := range n.devices {
		if d.addr.IsValid() && d.addr.Masked().Contains(dst) && d.addr.Bits() > best {
			best, out = d.addr.Bits(), d
		}
	}
	for _, r := range n.routes {
		if r.dst.Contains(dst) && r.dst.Bits() > best {
			best, out = r.dst.Bits(), n.devices[r.device-1]
		}
	}
	return out, out != nil
}

// ipSend hands a datagram originated at or forwarded by n to the next hop.
func (s *Simulator) ipSend(n *simNode, pkt *packet) {
	if n.node.ID == s.gateway {
		if ue, ok := s.ueByAddr[pkt.dst]; ok {
			s.gatewayDownlink(ue, pkt)
			return
		}
	}
	dev, ok := s.lookupRoute(n, pkt.dst)
	if !ok {
		s.drop(pkt, "no_route")
		return
	}
	switch dev.kind {
	case devPointToPoint:
		s.transmitP2P(dev, pkt)
	case devUeRadio:
		s.ueUplink(n, pkt)
	default:
		s.drop(pkt, "no_route")
	}
}

// ipReceive delivers a datagram arriving at n.
func (s *Simulator) ipReceive(n *simNode, pkt *packet) {
	if n.ownsAddress(pkt.dst) {
		s.deliver(n, pkt)
		return
	}
	if n.node.ID == s.gateway {
		s.ipSend(n, pkt)
		return
	}
	s.drop(pkt, "not_local")
}

// transmitP2P serialises pkt onto the link behind dev and schedules its
// arrival at the far end.
func (s *Simulator) transmitP2P(dev *device, pkt *packet) {
	link := dev.link
	if pkt.ipSize() > link.mtu {
		s.drop(pkt, "mtu")
		return
	}
	now := s.Now()
	start := now
	if link.busyUntil[dev.end] > start {
		start = link.busyUntil[dev.end]
	}
	txTime := time.Duration(float64(pkt.ipSize()*8) / float64(link.rateBps) * float64(time.Second))
	link.busyUntil[dev.end] = start + txTime
	if w := link.pcap[dev.end]; w != nil {
		s.noteSinkErr(w.Write(start, pkt))
	}

	far := 1 - dev.end
	arrival := start + txTime + link.delay
	s.at(arrival, func() {
		if w := link.pcap[far]; w != nil {
			s.noteSinkErr(w.Write(s.Now(), pkt))
		}
		s.ipReceive(link.nodes[far], pkt)
	})
}

func (s *Simulator) drop(pkt *packet, reason string) {
	s.dropped++
	s.rec.PacketDropped(pkt.dir.String(), reason)
	s.log.Debug(s.ctx, "packet dropped",
		logging.String("reason", reason),
		logging.String("direction", pkt.dir.String()),
		logging.Int("seq", int(pkt.seq)),
	)
}
