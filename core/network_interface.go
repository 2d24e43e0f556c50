package core

import (
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/handover-simulator/model"
)

// MediumType describes the physical medium behind a network interface.
type MediumType string

const (
	MediumWired MediumType = "wired"
	MediumRadio MediumType = "radio"
)

// NetworkInterface is one device of a node as seen by the IP layer. Device
// indexes start at 1 on every node; index 0 is reserved for loopback.
type NetworkInterface struct {
	ID           string
	ParentNodeID model.NodeID
	Device       int
	Medium       MediumType

	// Address is unset until the provisioner assigns one.
	Address netip.Addr
	// Prefix is the on-link block the address was drawn from.
	Prefix netip.Prefix

	// LinkIDs tracks which NetworkLink IDs this interface participates in.
	LinkIDs []string
}

// InterfaceID builds the canonical interface ID for a node device.
func InterfaceID(node model.NodeID, device int) string {
	return fmt.Sprintf("node-%d/dev-%d", node, device)
}
