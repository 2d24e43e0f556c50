package model

// QoSClass is the QoS class identifier of an EPS bearer.
type QoSClass int

const (
	QoSGbrConvVoice         QoSClass = 1
	QoSGbrConvVideo         QoSClass = 2
	QoSGbrGaming            QoSClass = 3
	QoSGbrNonConvVideo      QoSClass = 4
	QoSNgbrIms              QoSClass = 5
	QoSNgbrVideoTcpOperator QoSClass = 6
	QoSNgbrVoiceVideoGaming QoSClass = 7
	QoSNgbrVideoTcpPremium  QoSClass = 8
	// QoSNgbrVideoTcpDefault is the non-GBR, TCP-like video profile used for
	// every dedicated bearer in the handover scenario.
	QoSNgbrVideoTcpDefault QoSClass = 9
)

func (q QoSClass) String() string {
	switch q {
	case QoSGbrConvVoice:
		return "GBR_CONV_VOICE"
	case QoSGbrConvVideo:
		return "GBR_CONV_VIDEO"
	case QoSGbrGaming:
		return "GBR_GAMING"
	case QoSGbrNonConvVideo:
		return "GBR_NON_CONV_VIDEO"
	case QoSNgbrIms:
		return "NGBR_IMS"
	case QoSNgbrVideoTcpOperator:
		return "NGBR_VIDEO_TCP_OPERATOR"
	case QoSNgbrVoiceVideoGaming:
		return "NGBR_VOICE_VIDEO_GAMING"
	case QoSNgbrVideoTcpPremium:
		return "NGBR_VIDEO_TCP_PREMIUM"
	case QoSNgbrVideoTcpDefault:
		return "NGBR_VIDEO_TCP_DEFAULT"
	default:
		return "UNKNOWN"
	}
}

// FilterDirection says which traffic direction a packet filter applies to.
type FilterDirection int

const (
	FilterDownlink FilterDirection = iota + 1
	FilterUplink
	FilterBidirectional
)

func (d FilterDirection) String() string {
	switch d {
	case FilterDownlink:
		return "downlink"
	case FilterUplink:
		return "uplink"
	case FilterBidirectional:
		return "bidirectional"
	default:
		return "unknown"
	}
}

// PortRange is an inclusive port interval. Ports are 32-bit here because the
// scenario's base ports (80000/80001) exceed the 16-bit transport range.
type PortRange struct {
	Start uint32 `yaml:"start"`
	End   uint32 `yaml:"end"`
}

// SinglePort returns the range [p, p].
func SinglePort(p uint32) PortRange { return PortRange{Start: p, End: p} }

// Contains reports whether p lies within the range.
func (r PortRange) Contains(p uint32) bool { return p >= r.Start && p <= r.End }

// IsZero reports whether the range is unset and matches anything.
func (r PortRange) IsZero() bool { return r.Start == 0 && r.End == 0 }

// PacketFilter is a traffic flow template entry. Local ports refer to the UE
// side of the flow and remote ports to the far end. Zero ranges are
// wildcards.
type PacketFilter struct {
	Direction  FilterDirection `yaml:"direction"`
	LocalPort  PortRange       `yaml:"local_port,omitempty"`
	RemotePort PortRange       `yaml:"remote_port,omitempty"`
}

// Matches reports whether a packet with the given UE-side and far-side ports
// travelling in dir is selected by the filter.
func (f PacketFilter) Matches(dir FilterDirection, localPort, remotePort uint32) bool {
	if f.Direction != FilterBidirectional && f.Direction != dir {
		return false
	}
	if !f.LocalPort.IsZero() && !f.LocalPort.Contains(localPort) {
		return false
	}
	if !f.RemotePort.IsZero() && !f.RemotePort.Contains(remotePort) {
		return false
	}
	return true
}

// Bearer is a dedicated EPS bearer requested for one UE.
type Bearer struct {
	// Index is the bearer's position among the UE's dedicated bearers.
	Index   int            `yaml:"index"`
	UE      NodeID         `yaml:"ue"`
	DlPort  uint32         `yaml:"dl_port"`
	UlPort  uint32         `yaml:"ul_port"`
	QoS     QoSClass       `yaml:"qos"`
	Filters []PacketFilter `yaml:"filters"`
}

// Classify returns true when any of the bearer's filters selects the packet.
func (b Bearer) Classify(dir FilterDirection, localPort, remotePort uint32) bool {
	for _, f := range b.Filters {
		if f.Matches(dir, localPort, remotePort) {
			return true
		}
	}
	return false
}
