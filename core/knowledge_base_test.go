package core

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/signalsfoundry/handover-simulator/model"
)

func addIface(t *testing.T, kb *KnowledgeBase, node model.NodeID, dev int) string {
	t.Helper()
	id := InterfaceID(node, dev)
	if err := kb.AddInterface(&NetworkInterface{ID: id, ParentNodeID: node, Device: dev, Medium: MediumWired}); err != nil {
		t.Fatalf("AddInterface(%s): %v", id, err)
	}
	return id
}

func TestAddInterface_DuplicateIDFails(t *testing.T) {
	kb := NewKnowledgeBase()
	addIface(t, kb, 1, 1)

	err := kb.AddInterface(&NetworkInterface{ID: InterfaceID(1, 1), ParentNodeID: 1, Device: 1})
	if !errors.Is(err, ErrInterfaceExists) {
		t.Fatalf("expected ErrInterfaceExists, got %v", err)
	}
}

func TestAssignAddress_OncePerInterface(t *testing.T) {
	kb := NewKnowledgeBase()
	id := addIface(t, kb, 3, 1)

	if err := kb.AssignAddress(id, netip.MustParsePrefix("7.0.0.2/8")); err != nil {
		t.Fatalf("AssignAddress: %v", err)
	}
	if err := kb.AssignAddress(id, netip.MustParsePrefix("7.0.0.3/8")); !errors.Is(err, ErrAddressAssigned) {
		t.Fatalf("expected ErrAddressAssigned, got %v", err)
	}
	if err := kb.AssignAddress("missing", netip.MustParsePrefix("7.0.0.3/8")); !errors.Is(err, ErrInterfaceNotFound) {
		t.Fatalf("expected ErrInterfaceNotFound, got %v", err)
	}

	addrs := kb.AddressesOf(3)
	if len(addrs) != 1 || addrs[0] != netip.MustParseAddr("7.0.0.2") {
		t.Fatalf("AddressesOf = %v", addrs)
	}
	intf := kb.GetNetworkInterface(id)
	if intf.Prefix.String() != "7.0.0.0/8" {
		t.Fatalf("Prefix = %s, want 7.0.0.0/8", intf.Prefix)
	}
}

func TestAddNetworkLink_UnknownInterfaceFails(t *testing.T) {
	kb := NewKnowledgeBase()
	a := addIface(t, kb, 0, 1)

	err := kb.AddNetworkLink(&NetworkLink{
		ID:         "p2p-0",
		Kind:       LinkKindPointToPoint,
		NodeA:      0,
		NodeB:      1,
		InterfaceA: a,
		InterfaceB: InterfaceID(1, 1),
	})
	if !errors.Is(err, ErrInterfaceMiss) {
		t.Fatalf("expected ErrInterfaceMiss, got %v", err)
	}
}

func TestAddNetworkLink_AdjacencyAndNeighbours(t *testing.T) {
	kb := NewKnowledgeBase()
	a := addIface(t, kb, 0, 1)
	b := addIface(t, kb, 1, 1)

	if err := kb.AddNetworkLink(&NetworkLink{
		ID: "p2p-0", Kind: LinkKindPointToPoint, NodeA: 0, NodeB: 1, InterfaceA: a, InterfaceB: b,
	}); err != nil {
		t.Fatalf("AddNetworkLink p2p: %v", err)
	}
	for _, pair := range [][2]model.NodeID{{2, 3}, {2, 4}, {3, 4}} {
		if err := kb.AddNetworkLink(&NetworkLink{
			ID: X2LinkID(pair[0], pair[1]), Kind: LinkKindX2, NodeA: pair[0], NodeB: pair[1],
		}); err != nil {
			t.Fatalf("AddNetworkLink x2 %v: %v", pair, err)
		}
	}
	if err := kb.AddNetworkLink(&NetworkLink{ID: X2LinkID(3, 2), Kind: LinkKindX2, NodeA: 3, NodeB: 2}); !errors.Is(err, ErrLinkExists) {
		t.Fatalf("expected ErrLinkExists for reversed X2 pair, got %v", err)
	}

	if got := kb.GetLinksForInterface(a); len(got) != 1 || got[0].ID != "p2p-0" {
		t.Fatalf("GetLinksForInterface(%s) = %v", a, got)
	}
	if got := kb.GetNetworkInterface(b).LinkIDs; len(got) != 1 || got[0] != "p2p-0" {
		t.Fatalf("interface LinkIDs = %v", got)
	}
	if got := kb.GetNeighbours(2, LinkKindX2); len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("GetNeighbours(2) = %v, want [3 4]", got)
	}
	if got := kb.GetLinksByKind(LinkKindX2); len(got) != 3 {
		t.Fatalf("GetLinksByKind(x2) = %d links, want 3", len(got))
	}
}

func TestAddRoute_SingleDefault(t *testing.T) {
	kb := NewKnowledgeBase()
	gw := netip.MustParseAddr("7.0.0.1")

	if err := kb.AddRoute(Route{Node: 5, Destination: DefaultDestination, Gateway: gw, Device: 1}); err != nil {
		t.Fatalf("AddRoute default: %v", err)
	}
	if err := kb.AddRoute(Route{Node: 5, Destination: DefaultDestination, Gateway: gw, Device: 1}); !errors.Is(err, ErrDefaultRouteExists) {
		t.Fatalf("expected ErrDefaultRouteExists, got %v", err)
	}
	if err := kb.AddRoute(Route{Node: 5, Destination: netip.MustParsePrefix("1.2.3.4/8"), Device: 1}); err != nil {
		t.Fatalf("AddRoute network: %v", err)
	}

	routes := kb.Routes(5)
	if len(routes) != 2 {
		t.Fatalf("Routes = %v", routes)
	}
	if routes[1].Destination.String() != "1.0.0.0/8" {
		t.Fatalf("network route destination not masked: %s", routes[1].Destination)
	}
	def, ok := kb.DefaultRoute(5)
	if !ok || def.Gateway != gw {
		t.Fatalf("DefaultRoute = %+v, %v", def, ok)
	}
	if _, ok := kb.DefaultRoute(6); ok {
		t.Fatalf("node 6 should have no default route")
	}
}
