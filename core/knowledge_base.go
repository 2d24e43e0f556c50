package core

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/signalsfoundry/handover-simulator/model"
)

var (
	ErrLinkExists         = errors.New("link already exists")
	ErrLinkBadInput       = errors.New("invalid link")
	ErrEmptyLinkID        = errors.New("empty link ID")
	ErrInterfaceMiss      = errors.New("link references unknown interface")
	ErrInterfaceExists    = errors.New("interface already exists")
	ErrInterfaceNotFound  = errors.New("interface not found")
	ErrInterfaceBadInput  = errors.New("invalid interface")
	ErrAddressAssigned    = errors.New("interface already has an address")
	ErrRouteBadInput      = errors.New("invalid route")
	ErrDefaultRouteExists = errors.New("node already has a default route")
)

// KnowledgeBase is the network KB: it records the interfaces, addresses,
// links and static routes the provisioner asked the engine to install. It is
// written during the build phase and read by the manifest writer, the control
// service and tests.
type KnowledgeBase struct {
	mu sync.RWMutex

	interfaces       map[string]*NetworkInterface
	links            map[string]*NetworkLink
	linksByInterface map[string]map[string]*NetworkLink
	routes           map[model.NodeID][]Route
}

// NewKnowledgeBase creates an empty network knowledge base.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		interfaces:       make(map[string]*NetworkInterface),
		links:            make(map[string]*NetworkLink),
		linksByInterface: make(map[string]map[string]*NetworkLink),
		routes:           make(map[model.NodeID][]Route),
	}
}

//
// ---------- Interfaces ----------
//

func (kb *KnowledgeBase) AddInterface(intf *NetworkInterface) error {
	if intf == nil || intf.ID == "" || intf.Device < 1 {
		return fmt.Errorf("%w", ErrInterfaceBadInput)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.interfaces[intf.ID]; exists {
		return fmt.Errorf("%w: %q", ErrInterfaceExists, intf.ID)
	}
	kb.interfaces[intf.ID] = intf
	return nil
}

// GetNetworkInterface returns an interface by ID, or nil if not found.
func (kb *KnowledgeBase) GetNetworkInterface(id string) *NetworkInterface {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.interfaces[id]
}

// GetInterfacesForNode returns the node's interfaces ordered by device index.
func (kb *KnowledgeBase) GetInterfacesForNode(nodeID model.NodeID) []*NetworkInterface {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var out []*NetworkInterface
	for _, intf := range kb.interfaces {
		if intf.ParentNodeID == nodeID {
			out = append(out, intf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

// AssignAddress records the address of an interface. An interface holds at
// most one address.
func (kb *KnowledgeBase) AssignAddress(ifID string, addr netip.Prefix) error {
	if !addr.IsValid() {
		return fmt.Errorf("%w: invalid address for %q", ErrInterfaceBadInput, ifID)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	intf, ok := kb.interfaces[ifID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInterfaceNotFound, ifID)
	}
	if intf.Address.IsValid() {
		return fmt.Errorf("%w: %q has %s", ErrAddressAssigned, ifID, intf.Address)
	}
	intf.Address = addr.Addr()
	intf.Prefix = addr.Masked()
	return nil
}

// AddressesOf returns every address assigned to the node, ordered by device.
func (kb *KnowledgeBase) AddressesOf(nodeID model.NodeID) []netip.Addr {
	var out []netip.Addr
	for _, intf := range kb.GetInterfacesForNode(nodeID) {
		if intf.Address.IsValid() {
			out = append(out, intf.Address)
		}
	}
	return out
}

//
// ---------- Links ----------
//

// AddNetworkLink inserts a link and updates adjacency maps and per-interface
// LinkIDs.
func (kb *KnowledgeBase) AddNetworkLink(link *NetworkLink) error {
	if link == nil {
		return fmt.Errorf("%w", ErrLinkBadInput)
	}
	if link.ID == "" {
		return fmt.Errorf("%w", ErrEmptyLinkID)
	}
	if link.NodeA == link.NodeB {
		return fmt.Errorf("%w: %q connects node %d to itself", ErrLinkBadInput, link.ID, link.NodeA)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.links[link.ID]; exists {
		return fmt.Errorf("%w: %q", ErrLinkExists, link.ID)
	}

	// Validate that the referenced interfaces exist (when specified).
	if link.InterfaceA != "" {
		if _, ok := kb.interfaces[link.InterfaceA]; !ok {
			return fmt.Errorf("%w: %q references unknown interface %q", ErrInterfaceMiss, link.ID, link.InterfaceA)
		}
	}
	if link.InterfaceB != "" {
		if _, ok := kb.interfaces[link.InterfaceB]; !ok {
			return fmt.Errorf("%w: %q references unknown interface %q", ErrInterfaceMiss, link.ID, link.InterfaceB)
		}
	}

	kb.links[link.ID] = link
	kb.attachLinkToInterface(link.ID, link.InterfaceA)
	kb.attachLinkToInterface(link.ID, link.InterfaceB)
	return nil
}

// GetAllNetworkLinks returns all links ordered by ID.
func (kb *KnowledgeBase) GetAllNetworkLinks() []*NetworkLink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]*NetworkLink, 0, len(kb.links))
	for _, l := range kb.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetLinksByKind returns the links of one kind ordered by ID.
func (kb *KnowledgeBase) GetLinksByKind(kind LinkKind) []*NetworkLink {
	var out []*NetworkLink
	for _, l := range kb.GetAllNetworkLinks() {
		if l.Kind == kind {
			out = append(out, l)
		}
	}
	return out
}

// GetLinksForInterface returns all links attached to a given interface.
func (kb *KnowledgeBase) GetLinksForInterface(ifID string) []*NetworkLink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	m, ok := kb.linksByInterface[ifID]
	if !ok {
		return nil
	}
	out := make([]*NetworkLink, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetNeighbours returns the nodes directly linked to nodeID over links of
// the given kind, in ascending order.
func (kb *KnowledgeBase) GetNeighbours(nodeID model.NodeID, kind LinkKind) []model.NodeID {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	neigh := make(map[model.NodeID]struct{})
	for _, link := range kb.links {
		if link.Kind != kind {
			continue
		}
		switch nodeID {
		case link.NodeA:
			neigh[link.NodeB] = struct{}{}
		case link.NodeB:
			neigh[link.NodeA] = struct{}{}
		}
	}

	out := make([]model.NodeID, 0, len(neigh))
	for id := range neigh {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

//
// ---------- Routes ----------
//

// AddRoute appends a static route to the node's table. A node holds at most
// one default route.
func (kb *KnowledgeBase) AddRoute(r Route) error {
	if !r.Destination.IsValid() || r.Device < 1 {
		return fmt.Errorf("%w: node %d", ErrRouteBadInput, r.Node)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if r.IsDefault() {
		for _, existing := range kb.routes[r.Node] {
			if existing.IsDefault() {
				return fmt.Errorf("%w: node %d via %s", ErrDefaultRouteExists, r.Node, existing.Gateway)
			}
		}
	}
	r.Destination = r.Destination.Masked()
	kb.routes[r.Node] = append(kb.routes[r.Node], r)
	return nil
}

// Routes returns a copy of the node's route table in insertion order.
func (kb *KnowledgeBase) Routes(nodeID model.NodeID) []Route {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return append([]Route(nil), kb.routes[nodeID]...)
}

// DefaultRoute returns the node's default route, if any.
func (kb *KnowledgeBase) DefaultRoute(nodeID model.NodeID) (Route, bool) {
	for _, r := range kb.Routes(nodeID) {
		if r.IsDefault() {
			return r, true
		}
	}
	return Route{}, false
}

// attachLinkToInterface updates linksByInterface and the interface's
// LinkIDs slice to include linkID.
//
// NOTE: caller must hold kb.mu (write lock).
func (kb *KnowledgeBase) attachLinkToInterface(linkID, ifID string) {
	if ifID == "" {
		return
	}
	m, ok := kb.linksByInterface[ifID]
	if !ok {
		m = make(map[string]*NetworkLink)
		kb.linksByInterface[ifID] = m
	}
	m[linkID] = kb.links[linkID]

	if intf := kb.interfaces[ifID]; intf != nil {
		intf.LinkIDs = appendIfMissing(intf.LinkIDs, linkID)
	}
}

func appendIfMissing(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
