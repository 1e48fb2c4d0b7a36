package graph

import (
	"slices"
)

// DirtyRef is one displaced identity recorded by a mutation: the network
// zeroes the resolution and remembers what it held so the next compilation
// can release and invalidate from it. Port -1 means the node's own
// resolution; ports >= 0 are slot-owned identities.
type DirtyRef struct {
	Node       NodeID
	Port       int
	Resolution SlotResolution
}

// DetachedWire records a consumer slot that was unset because its upstream
// node was removed. History uses it to restore the wiring on undo.
type DetachedWire struct {
	Node     NodeID
	Port     int
	Previous Input
}

// RemovedNode is everything RemoveNode displaced: a snapshot of the node,
// the consumer wires that were detached, and whether it was the export.
type RemovedNode struct {
	Node      *Node
	Detached  []DetachedWire
	WasExport bool
}

// Network is one document's abstract graph. Not safe for concurrent use;
// the engine serializes all access.
type Network struct {
	nodes  map[NodeID]*Node
	order  []NodeID
	export NodeID
	dirty  []DirtyRef
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[NodeID]*Node)}
}

// Add inserts a node. The ID must be unused.
func (net *Network) Add(n *Node) error {
	if _, exists := net.nodes[n.ID]; exists {
		return &DuplicateNodeError{ID: n.ID}
	}
	if len(n.Slots) != len(n.Inputs) {
		n.Slots = make([]SlotResolution, len(n.Inputs))
	}
	net.nodes[n.ID] = n
	net.order = append(net.order, n.ID)
	return nil
}

// Node returns the node with the given ID.
func (net *Network) Node(id NodeID) (*Node, bool) {
	n, ok := net.nodes[id]
	return n, ok
}

// Len returns the node count.
func (net *Network) Len() int { return len(net.nodes) }

// Nodes returns all nodes in insertion order.
func (net *Network) Nodes() []*Node {
	out := make([]*Node, 0, len(net.order))
	for _, id := range net.order {
		out = append(out, net.nodes[id])
	}
	return out
}

// Export returns the designated export node, empty when none.
func (net *Network) Export() NodeID { return net.export }

// SetExport designates the export node and returns the previous
// designation. An empty ID clears it.
func (net *Network) SetExport(id NodeID) (NodeID, error) {
	if id != "" {
		if _, ok := net.nodes[id]; !ok {
			return "", &NotFoundError{ID: id}
		}
	}
	prev := net.export
	net.export = id
	return prev, nil
}

// SetInput replaces the input at port and returns the previous input.
// The node's resolution and the slot's owned identity are displaced into
// the dirty set. Connection targets are not validated; a dangling wire
// defers the node at compile time instead.
func (net *Network) SetInput(id NodeID, port int, in Input) (Input, error) {
	n, ok := net.nodes[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if port < 0 || port >= len(n.Inputs) {
		return nil, &PortError{ID: id, Port: port, Arity: len(n.Inputs)}
	}
	if in == nil {
		in = Unset{}
	}

	prev := n.Inputs[port]
	net.displaceNode(n)
	net.displaceSlot(n, port)
	n.Inputs[port] = in
	return prev, nil
}

// RemoveNode deletes a node, unsets every consumer wire pointing at it,
// and displaces every identity the node or its slots held.
func (net *Network) RemoveNode(id NodeID) (*RemovedNode, error) {
	n, ok := net.nodes[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	removed := &RemovedNode{
		Node:      n.Snapshot(),
		WasExport: net.export == id,
	}

	net.displaceNode(n)
	for port := range n.Slots {
		net.displaceSlot(n, port)
	}

	for _, cid := range net.order {
		if cid == id {
			continue
		}
		consumer := net.nodes[cid]
		for port, in := range consumer.Inputs {
			conn, isConn := in.(Connection)
			if !isConn || conn.Node != id {
				continue
			}
			prev, err := net.SetInput(cid, port, Unset{})
			if err != nil {
				return nil, err
			}
			removed.Detached = append(removed.Detached, DetachedWire{
				Node:     cid,
				Port:     port,
				Previous: prev,
			})
		}
	}

	delete(net.nodes, id)
	net.order = slices.DeleteFunc(net.order, func(o NodeID) bool { return o == id })
	if removed.WasExport {
		net.export = ""
	}
	return removed, nil
}

// Consumers returns the IDs of nodes with at least one connection to id,
// in insertion order.
func (net *Network) Consumers(id NodeID) []NodeID {
	var out []NodeID
	for _, cid := range net.order {
		if cid == id {
			continue
		}
		c := net.nodes[cid]
		for port := range c.Inputs {
			if c.Connected(port, id) {
				out = append(out, cid)
				break
			}
		}
	}
	return out
}

// Dirty returns a copy of the displaced-identity records accumulated since
// the last ClearDirty.
func (net *Network) Dirty() []DirtyRef {
	return slices.Clone(net.dirty)
}

// ClearDirty drops the accumulated records. Called by the compiler after
// it has consumed them; a failed compilation leaves them in place for the
// next attempt.
func (net *Network) ClearDirty() {
	net.dirty = nil
}

// ClearResolutions wipes every resolution field and all pending dirty
// records. Used when the compiler's protonode table is rebuilt from
// scratch: the old identities are gone wholesale, so recording them one
// by one would be meaningless.
func (net *Network) ClearResolutions() {
	for _, id := range net.order {
		n := net.nodes[id]
		n.AssignedSNI = 0
		for i := range n.Slots {
			n.Slots[i] = SlotResolution{}
		}
	}
	net.dirty = nil
}

func (net *Network) displaceNode(n *Node) {
	if n.AssignedSNI.IsZero() {
		return
	}
	net.dirty = append(net.dirty, DirtyRef{
		Node:       n.ID,
		Port:       -1,
		Resolution: SlotResolution{Effective: n.AssignedSNI},
	})
	n.AssignedSNI = 0
}

func (net *Network) displaceSlot(n *Node, port int) {
	if n.Slots[port].IsZero() {
		return
	}
	net.dirty = append(net.dirty, DirtyRef{
		Node:       n.ID,
		Port:       port,
		Resolution: n.Slots[port],
	})
	n.Slots[port] = SlotResolution{}
}
