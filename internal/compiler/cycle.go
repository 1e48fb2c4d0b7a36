package compiler

import (
	"github.com/trellisdev/trellis/internal/graph"
)

type visitState uint8

const (
	unvisited visitState = iota
	onTrail
	settled
)

// findCycle detects dependency cycles in the abstract network and returns
// one as a path, consumer first, with the starting node repeated at the
// end. Returns nil for an acyclic network.
//
// The whole network is checked, not just the part reachable from the
// export: a cycle anywhere is structural corruption that history should
// undo, and letting it linger in a disconnected corner would make later
// reconnection fail in stranger ways.
//
// A depth first walk over producer edges keeps a trail of the current
// path; stepping onto a node already on the trail closes the loop.
// Dangling connections contribute no edge. Insertion order of the walk
// keeps the reported path deterministic.
func findCycle(net *graph.Network) []graph.NodeID {
	state := make(map[graph.NodeID]visitState)
	for _, n := range net.Nodes() {
		if state[n.ID] != unvisited {
			continue
		}
		if path := walkForCycle(net, n.ID, state); path != nil {
			return path
		}
	}
	return nil
}

// walkForCycle runs one DFS rooted at start, driven by an explicit
// frame stack rather than recursion.
func walkForCycle(net *graph.Network, start graph.NodeID, state map[graph.NodeID]visitState) []graph.NodeID {
	type frame struct {
		id    graph.NodeID
		edges []graph.NodeID
		next  int
	}

	stack := []frame{{id: start, edges: producers(net, start)}}
	trail := []graph.NodeID{start}
	state[start] = onTrail

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.edges) {
			state[top.id] = settled
			stack = stack[:len(stack)-1]
			trail = trail[:len(trail)-1]
			continue
		}

		w := top.edges[top.next]
		top.next++

		switch state[w] {
		case onTrail:
			return closeLoop(trail, w)
		case settled:
			// Already explored without finding a cycle.
		default:
			state[w] = onTrail
			trail = append(trail, w)
			stack = append(stack, frame{id: w, edges: producers(net, w)})
		}
	}
	return nil
}

// closeLoop slices the trail from the revisited node onward and appends
// it again, yielding a readable cycle like [a b c a]. A self loop comes
// out as [a a].
func closeLoop(trail []graph.NodeID, target graph.NodeID) []graph.NodeID {
	for i, id := range trail {
		if id != target {
			continue
		}
		loop := make([]graph.NodeID, 0, len(trail)-i+1)
		loop = append(loop, trail[i:]...)
		return append(loop, target)
	}
	return nil
}

// producers returns the existing nodes v depends on, in port order.
func producers(net *graph.Network, v graph.NodeID) []graph.NodeID {
	n, ok := net.Node(v)
	if !ok {
		return nil
	}
	var out []graph.NodeID
	for _, in := range n.Inputs {
		conn, ok := in.(graph.Connection)
		if !ok {
			continue
		}
		if _, exists := net.Node(conn.Node); !exists {
			continue
		}
		out = append(out, conn.Node)
	}
	return out
}
