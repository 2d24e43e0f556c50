package core

import (
	"net/netip"

	"github.com/signalsfoundry/handover-simulator/model"
)

// DefaultDestination is the destination of a default route.
var DefaultDestination = netip.PrefixFrom(netip.IPv4Unspecified(), 0)

// Route is one static routing entry of a node. Gateway is unset for
// on-link network routes.
type Route struct {
	Node        model.NodeID
	Destination netip.Prefix
	Gateway     netip.Addr
	Device      int
}

// IsDefault reports whether the route matches every destination.
func (r Route) IsDefault() bool {
	return r.Destination.Bits() == 0
}
