package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/signalsfoundry/handover-simulator/model"
)

// Per-layer header overheads, in bytes, used for PDU sizes in traces and
// statistics.
const (
	pdcpHeaderSize = 2
	rlcHeaderSize  = 2
	macHeaderSize  = 3
)

const (
	defaultBearerLcid = 3
	maxLcid           = 10
)

var macSchedulers = map[string]bool{
	"RrFfMacScheduler":     true,
	"PfFfMacScheduler":     true,
	"FdMtFfMacScheduler":   true,
	"TdMtFfMacScheduler":   true,
	"TtaFfMacScheduler":    true,
	"FdBetFfMacScheduler":  true,
	"TdBetFfMacScheduler":  true,
	"FdTbfqFfMacScheduler": true,
	"TdTbfqFfMacScheduler": true,
	"PssFfMacScheduler":    true,
	"CqaFfMacScheduler":    true,
}

type enbState struct {
	cellID   uint16
	dev      int
	txPower  float64
	x2       map[model.NodeID]bool
	nextRnti uint16
	// pending holds forwarded downlink packets for UEs still synchronising
	// to this cell.
	pending map[model.NodeID][]*packet
}

func (e *enbState) allocRnti() uint16 {
	e.nextRnti++
	return e.nextRnti
}

type ueBearer struct {
	lcid   uint8
	bearer model.Bearer
	// dedicated is false for the default bearer, which matches anything.
	dedicated bool
}

type ueState struct {
	imsi     uint64
	dev      int
	serving  model.NodeID
	rnti     uint16
	detached bool
	target   model.NodeID
	bearers  []ueBearer
	nextLcid uint8
}

// classify returns the LCID of the first dedicated bearer whose filters
// select the packet, falling back to the default bearer.
func (u *ueState) classify(dir model.FilterDirection, localPort, remotePort uint32) uint8 {
	for _, b := range u.bearers {
		if b.dedicated && b.bearer.Classify(dir, localPort, remotePort) {
			return b.lcid
		}
	}
	return defaultBearerLcid
}

// SetScheduler selects the MAC scheduler type. It must precede eNB device
// installation. MAC scheduling itself is not modelled; the type is recorded
// and reported.
func (s *Simulator) SetScheduler(name string) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	if s.radioInstalled {
		return fmt.Errorf("%w: scheduler must be set before eNB devices are installed", ErrBuildOrder)
	}
	name = strings.TrimPrefix(name, "ns3::")
	if !macSchedulers[name] {
		return fmt.Errorf("%w: %q", ErrUnknownScheduler, name)
	}
	s.scheduler = name
	return nil
}

// Scheduler returns the configured MAC scheduler type.
func (s *Simulator) Scheduler() string { return s.scheduler }

// SetIdealRrc selects the RRC protocol model. The ideal model delivers RRC
// messages after one air hop; the real model adds SRB1 transmission time to
// every RRC exchange. It must precede radio device installation.
func (s *Simulator) SetIdealRrc(ideal bool) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	if s.radioInstalled {
		return fmt.Errorf("%w: RRC protocol must be set before radio devices are installed", ErrBuildOrder)
	}
	s.idealRrc = ideal
	return nil
}

// IdealRrc reports whether the ideal RRC protocol is in use.
func (s *Simulator) IdealRrc() bool { return s.idealRrc }

func (s *Simulator) rrcDelay() time.Duration {
	if s.idealRrc {
		return s.airDelay
	}
	return s.airDelay + DefaultRrcSignallingDelay
}

// InstallEnbDevice installs the radio device of an eNB.
func (s *Simulator) InstallEnbDevice(id model.NodeID, cfg EnbDeviceConfig) (int, error) {
	if err := s.checkBuild(); err != nil {
		return 0, err
	}
	n, err := s.lookupKind(id, model.NodeKindEnb)
	if err != nil {
		return 0, err
	}
	if n.enb != nil {
		return 0, fmt.Errorf("%w: eNB %d radio device", ErrDeviceExists, id)
	}
	if math.IsNaN(cfg.TxPowerDbm) || math.IsInf(cfg.TxPowerDbm, 0) {
		return 0, fmt.Errorf("%w: tx power %v", ErrInvalidAttribute, cfg.TxPowerDbm)
	}
	dev := n.addDevice(devEnbRadio)
	n.enb = &enbState{
		cellID:  uint16(n.node.Index + 1),
		dev:     dev.index,
		txPower: cfg.TxPowerDbm,
		x2:      make(map[model.NodeID]bool),
		pending: make(map[model.NodeID][]*packet),
	}
	s.radioInstalled = true
	return dev.index, nil
}

// InstallUeDevice installs the radio device of a UE together with its
// default bearer.
func (s *Simulator) InstallUeDevice(id model.NodeID) (int, error) {
	if err := s.checkBuild(); err != nil {
		return 0, err
	}
	n, err := s.lookupKind(id, model.NodeKindUe)
	if err != nil {
		return 0, err
	}
	if n.ue != nil {
		return 0, fmt.Errorf("%w: UE %d radio device", ErrDeviceExists, id)
	}
	dev := n.addDevice(devUeRadio)
	n.ue = &ueState{
		imsi:     uint64(n.node.Index + 1),
		dev:      dev.index,
		serving:  model.InvalidNodeID,
		target:   model.InvalidNodeID,
		bearers:  []ueBearer{{lcid: defaultBearerLcid, bearer: model.Bearer{Index: -1, UE: id, QoS: model.QoSNgbrVideoTcpDefault}}},
		nextLcid: defaultBearerLcid + 1,
	}
	s.radioInstalled = true
	return dev.index, nil
}

// Attach connects a UE to an explicit initial eNB.
func (s *Simulator) Attach(ueID, enbID model.NodeID) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	ueNode, err := s.lookupKind(ueID, model.NodeKindUe)
	if err != nil {
		return err
	}
	enbNode, err := s.lookupKind(enbID, model.NodeKindEnb)
	if err != nil {
		return err
	}
	if ueNode.ue == nil || enbNode.enb == nil {
		return fmt.Errorf("%w: attach %d to %d needs radio devices on both", ErrUnknownDevice, ueID, enbID)
	}
	if ueNode.ue.serving != model.InvalidNodeID {
		return fmt.Errorf("%w: UE %d already attached to %d", ErrBuildOrder, ueID, ueNode.ue.serving)
	}
	ueNode.ue.serving = enbID
	ueNode.ue.rnti = enbNode.enb.allocRnti()
	s.pathSwitch[ueID] = enbID
	return nil
}

// ServingCell returns the eNB currently serving the UE.
func (s *Simulator) ServingCell(ueID model.NodeID) (model.NodeID, error) {
	n, err := s.lookupKind(ueID, model.NodeKindUe)
	if err != nil {
		return model.InvalidNodeID, err
	}
	if n.ue == nil || n.ue.serving == model.InvalidNodeID {
		return model.InvalidNodeID, fmt.Errorf("%w: %d", ErrNotAttached, ueID)
	}
	return n.ue.serving, nil
}

// AddX2Interface connects two eNBs for handover signalling and forwarding.
func (s *Simulator) AddX2Interface(a, b model.NodeID) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	if a == b {
		return fmt.Errorf("%w: X2 from eNB %d to itself", ErrWrongNodeKind, a)
	}
	na, err := s.lookupKind(a, model.NodeKindEnb)
	if err != nil {
		return err
	}
	nb, err := s.lookupKind(b, model.NodeKindEnb)
	if err != nil {
		return err
	}
	if na.enb == nil || nb.enb == nil {
		return fmt.Errorf("%w: X2 %d-%d needs eNB devices", ErrUnknownDevice, a, b)
	}
	if na.enb.x2[b] {
		return fmt.Errorf("%w: X2 %d-%d", ErrDeviceExists, a, b)
	}
	na.enb.x2[b] = true
	nb.enb.x2[a] = true
	return nil
}

// HasX2 reports whether two eNBs share an X2 interface.
func (s *Simulator) HasX2(a, b model.NodeID) bool {
	n, ok := s.nodes[a]
	return ok && n.enb != nil && n.enb.x2[b]
}

// ActivateDedicatedBearer binds a dedicated EPS bearer with its traffic flow
// template to a UE's radio device.
func (s *Simulator) ActivateDedicatedBearer(ueID model.NodeID, devIndex int, bearer model.Bearer) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	n, err := s.lookupKind(ueID, model.NodeKindUe)
	if err != nil {
		return err
	}
	if n.ue == nil || n.ue.dev != devIndex {
		return fmt.Errorf("%w: UE %d has no radio device %d", ErrUnknownDevice, ueID, devIndex)
	}
	if bearer.UE != ueID {
		return fmt.Errorf("%w: bearer for UE %d activated on UE %d", ErrInvalidBearer, bearer.UE, ueID)
	}
	if bearer.QoS < model.QoSGbrConvVoice || bearer.QoS > model.QoSNgbrVideoTcpDefault {
		return fmt.Errorf("%w: QoS class %d", ErrInvalidBearer, bearer.QoS)
	}
	if len(bearer.Filters) == 0 {
		return fmt.Errorf("%w: bearer %d has no packet filters", ErrInvalidBearer, bearer.Index)
	}
	for _, f := range bearer.Filters {
		if f.Direction < model.FilterDownlink || f.Direction > model.FilterBidirectional {
			return fmt.Errorf("%w: filter direction %d", ErrInvalidBearer, f.Direction)
		}
		if f.LocalPort.Start > f.LocalPort.End || f.RemotePort.Start > f.RemotePort.End {
			return fmt.Errorf("%w: inverted port range", ErrInvalidBearer)
		}
	}
	if n.ue.nextLcid > maxLcid {
		return fmt.Errorf("%w: UE %d has no free logical channel", ErrInvalidBearer, ueID)
	}
	n.ue.bearers = append(n.ue.bearers, ueBearer{lcid: n.ue.nextLcid, bearer: bearer, dedicated: true})
	n.ue.nextLcid++
	return nil
}

// gatewayDownlink classifies a datagram for a UE and tunnels it to the eNB
// the gateway believes serves that UE.
func (s *Simulator) gatewayDownlink(ueID model.NodeID, pkt *packet) {
	ueNode := s.nodes[ueID]
	enbID, ok := s.pathSwitch[ueID]
	if !ok || ueNode.ue == nil {
		s.drop(pkt, "not_attached")
		return
	}
	pkt.lcid = ueNode.ue.classify(model.FilterDownlink, pkt.dstPort, pkt.srcPort)
	pkt.imsi = ueNode.ue.imsi
	pkt.via = enbID
	enb := s.nodes[enbID]
	s.after(s.s1Delay, func() { s.enbDownlink(enb, ueNode, pkt) })
}

// enbDownlink handles a downlink datagram arriving at an eNB from the
// gateway or over X2.
func (s *Simulator) enbDownlink(enb, ueNode *simNode, pkt *packet) {
	ue := ueNode.ue
	if !pkt.forwarded {
		pkt.pdcpTxAt = s.Now()
		s.statsTx(LayerPdcp, Downlink, enb, ue, pkt, pkt.ipSize()+pdcpHeaderSize)
	}

	if ue.detached && ue.target == enb.node.ID {
		enb.enb.pending[ueNode.node.ID] = append(enb.enb.pending[ueNode.node.ID], pkt)
		return
	}
	serving := ue.serving
	if ue.detached {
		serving = ue.target
	}
	if serving == enb.node.ID {
		s.radioDownlink(enb, ueNode, pkt)
		return
	}
	if pkt.forwarded {
		s.drop(pkt, "stale")
		return
	}
	if serving == model.InvalidNodeID || !enb.enb.x2[serving] {
		s.drop(pkt, "no_x2")
		return
	}
	pkt.forwarded = true
	s.rec.X2Forward()
	target := s.nodes[serving]
	s.after(s.x2Delay, func() { s.enbDownlink(target, ueNode, pkt) })
}

func (s *Simulator) radioDownlink(enb, ueNode *simNode, pkt *packet) {
	ue := ueNode.ue
	now := s.Now()
	pkt.rlcTxAt = now
	rlcSize := pkt.ipSize() + pdcpHeaderSize + rlcHeaderSize
	s.statsTx(LayerRlc, Downlink, enb, ue, pkt, rlcSize)
	s.tracePdu(LayerMac, Downlink, now, enb, ue, rlcSize+macHeaderSize)
	s.tracePdu(LayerPhy, Downlink, now, enb, ue, rlcSize+macHeaderSize)

	s.after(s.airDelay, func() {
		now := s.Now()
		s.statsRx(LayerRlc, Downlink, enb, ue, pkt, rlcSize, now-pkt.rlcTxAt)
		s.statsRx(LayerPdcp, Downlink, enb, ue, pkt, pkt.ipSize()+pdcpHeaderSize, now-pkt.pdcpTxAt)
		s.ipReceive(ueNode, pkt)
	})
}

// ueUplink sends a datagram from a UE to its serving eNB and on to the
// gateway.
func (s *Simulator) ueUplink(ueNode *simNode, pkt *packet) {
	ue := ueNode.ue
	if ue == nil || ue.serving == model.InvalidNodeID || ue.detached {
		s.drop(pkt, "no_serving_cell")
		return
	}
	if s.gateway == model.InvalidNodeID {
		s.drop(pkt, "no_gateway")
		return
	}
	enb := s.nodes[ue.serving]
	pkt.lcid = ue.classify(model.FilterUplink, pkt.srcPort, pkt.dstPort)
	pkt.imsi = ue.imsi

	now := s.Now()
	pkt.pdcpTxAt, pkt.rlcTxAt = now, now
	pdcpSize := pkt.ipSize() + pdcpHeaderSize
	rlcSize := pdcpSize + rlcHeaderSize
	s.statsTx(LayerPdcp, Uplink, enb, ue, pkt, pdcpSize)
	s.statsTx(LayerRlc, Uplink, enb, ue, pkt, rlcSize)
	s.tracePdu(LayerMac, Uplink, now, enb, ue, rlcSize+macHeaderSize)
	s.tracePdu(LayerPhy, Uplink, now, enb, ue, rlcSize+macHeaderSize)

	gateway := s.nodes[s.gateway]
	s.after(s.airDelay, func() {
		now := s.Now()
		s.statsRx(LayerRlc, Uplink, enb, ue, pkt, rlcSize, now-pkt.rlcTxAt)
		s.statsRx(LayerPdcp, Uplink, enb, ue, pkt, pdcpSize, now-pkt.pdcpTxAt)
		s.after(s.s1Delay, func() { s.ipReceive(gateway, pkt) })
	})
}
