package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/handover-simulator/model"
)

var (
	// ErrNodeNotFound indicates a requested node does not exist.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeInvalid indicates a node could not be created.
	ErrNodeInvalid = errors.New("invalid node")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Node model.Node
}

// KnowledgeBase is the node arena of one experiment. It is the sole owner of
// node records; every other component refers to nodes by model.NodeID.
// Nodes are never removed, so an ID stays valid for the life of the KB.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes  []model.Node
	byKind map[model.NodeKind][]model.NodeID

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		byKind: make(map[model.NodeKind][]model.NodeID),
	}
}

// AddNode creates a node of the given kind. IDs are assigned sequentially
// from zero across all kinds.
func (kb *KnowledgeBase) AddNode(kind model.NodeKind) (model.Node, error) {
	if kind == model.NodeKindUnknown {
		return model.Node{}, fmt.Errorf("%w: unknown kind", ErrNodeInvalid)
	}

	kb.mu.Lock()
	index := len(kb.byKind[kind])
	node := model.Node{
		ID:    model.NodeID(len(kb.nodes)),
		Kind:  kind,
		Index: index,
		Name:  model.NodeName(kind, index),
	}
	kb.nodes = append(kb.nodes, node)
	kb.byKind[kind] = append(kb.byKind[kind], node.ID)
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(Event{Type: EventNodeAdded, Node: node})
	}
	return node, nil
}

// AddNodes creates n nodes of one kind and returns them in creation order.
func (kb *KnowledgeBase) AddNodes(kind model.NodeKind, n int) ([]model.Node, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrNodeInvalid, n)
	}
	out := make([]model.Node, 0, n)
	for i := 0; i < n; i++ {
		node, err := kb.AddNode(kind)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

// GetNode returns the node with the given ID.
func (kb *KnowledgeBase) GetNode(id model.NodeID) (model.Node, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	if id < 0 || int(id) >= len(kb.nodes) {
		return model.Node{}, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return kb.nodes[id], nil
}

// ListNodes returns a snapshot of all nodes ordered by ID.
func (kb *KnowledgeBase) ListNodes() []model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return append([]model.Node(nil), kb.nodes...)
}

// NodesOfKind returns the nodes of one kind ordered by index.
func (kb *KnowledgeBase) NodesOfKind(kind model.NodeKind) []model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	ids := kb.byKind[kind]
	out := make([]model.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.nodes[id])
	}
	return out
}

// Count returns the number of nodes of one kind.
func (kb *KnowledgeBase) Count(kind model.NodeKind) int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.byKind[kind])
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}
