package model

import "fmt"

// NodeID is a stable arena index for a network participant. IDs are handed
// out by the node registry in creation order and never reused.
type NodeID int

// InvalidNodeID is returned where no node applies.
const InvalidNodeID NodeID = -1

// NodeKind classifies a network participant.
type NodeKind int

const (
	NodeKindUnknown    NodeKind = iota
	NodeKindEnb                 // base station
	NodeKindUe                  // mobile terminal
	NodeKindPgw                 // core network gateway
	NodeKindRemoteHost          // external host behind the gateway
)

func (k NodeKind) String() string {
	switch k {
	case NodeKindEnb:
		return "enb"
	case NodeKindUe:
		return "ue"
	case NodeKindPgw:
		return "pgw"
	case NodeKindRemoteHost:
		return "remote-host"
	default:
		return "unknown"
	}
}

// Node represents a network participant. Index is the position of the node
// among nodes of the same kind (eNB 0, eNB 1, ...).
type Node struct {
	ID    NodeID
	Kind  NodeKind
	Index int
	Name  string
}

// NodeName builds the conventional display name for a node.
func NodeName(kind NodeKind, index int) string {
	return fmt.Sprintf("%s-%d", kind, index)
}
