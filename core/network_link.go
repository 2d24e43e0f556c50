package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/handover-simulator/model"
)

// LinkKind distinguishes the backhaul point-to-point link from inter-eNB
// signalling links.
type LinkKind string

const (
	LinkKindPointToPoint LinkKind = "p2p"
	LinkKindX2           LinkKind = "x2"
)

// NetworkLink connects two NetworkInterfaces (p2p) or two eNBs (X2). X2
// links are recorded per node pair and leave the interface fields empty.
type NetworkLink struct {
	ID   string
	Kind LinkKind

	NodeA model.NodeID
	NodeB model.NodeID

	InterfaceA string
	InterfaceB string

	DataRateBps uint64
	MTU         uint32
	Delay       time.Duration
}

// X2LinkID returns the canonical ID for the X2 link between two eNBs. The
// ID is independent of argument order.
func X2LinkID(a, b model.NodeID) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("x2/%d-%d", a, b)
}
