package model

import (
	"net/netip"
	"time"
)

// SeqTsHeaderSize is the size of the sequence number and timestamp header
// carried at the start of every UDP client payload.
const SeqTsHeaderSize = 12

// ApplicationKind distinguishes traffic sources from sinks.
type ApplicationKind int

const (
	AppUdpClient ApplicationKind = iota + 1
	AppPacketSink
)

func (k ApplicationKind) String() string {
	switch k {
	case AppUdpClient:
		return "udp-client"
	case AppPacketSink:
		return "packet-sink"
	default:
		return "unknown"
	}
}

// Application is one traffic endpoint bound to a node and port. Clients send
// to Remote:Port; sinks listen on Port.
type Application struct {
	Kind   ApplicationKind
	Node   NodeID
	Remote netip.Addr
	Port   uint32
	Start  time.Duration
	// Bearer is the index of the bearer the endpoint belongs to.
	Bearer int
	// Direction is FilterDownlink or FilterUplink.
	Direction FilterDirection
}
