package compiler

import (
	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/ir"
	"github.com/trellisdev/trellis/internal/registry"
)

// demandTable holds, for every node reachable from the export, the set of
// context features the node needs from whoever invokes it:
//
//	demand(n) = extract(n) | (modify(n) & callees) | (callees &^ inject(n))
//
// where callees is the union of the demands of n's connected producers.
// Extracted features are needed outright. Modified features are needed
// only if a callee consumes them (a time-shift node is transparent to
// time unless something upstream reads the clock). Injected features are
// satisfied locally and never escape downward.
//
// Demand depends only on a node's catalog entry and its upstream subtree,
// so an edit can only change demands downstream of itself, which is
// exactly the region the invalidation walk clears. Everything here is
// recomputed per compile and never mutated afterwards.
type demandTable struct {
	totals map[graph.NodeID]ir.FeatureSet
}

// analyzeDemand computes demands for the subtree under the export node.
// The network must already be known acyclic. Unknown node types
// contribute no dependencies of their own; their subtrees are still
// traversed so that masks stay stable while the node stays unresolved.
func analyzeDemand(net *graph.Network, reg *registry.Registry) *demandTable {
	d := &demandTable{totals: make(map[graph.NodeID]ir.FeatureSet)}
	if export := net.Export(); export != "" {
		if _, ok := net.Node(export); ok {
			d.visit(net, reg, export)
		}
	}
	return d
}

func (d *demandTable) visit(net *graph.Network, reg *registry.Registry, id graph.NodeID) ir.FeatureSet {
	if total, ok := d.totals[id]; ok {
		return total
	}

	n, _ := net.Node(id)
	var deps ir.ContextDependencies
	if def, ok := reg.Lookup(n.Type); ok {
		deps = def.Context
	}

	var callees ir.FeatureSet
	for _, in := range n.Inputs {
		conn, ok := in.(graph.Connection)
		if !ok {
			continue
		}
		if _, exists := net.Node(conn.Node); !exists {
			continue
		}
		callees = callees.Union(d.visit(net, reg, conn.Node))
	}

	total := deps.Extract.
		Union(deps.Modify.Intersect(callees)).
		Union(callees.Diff(deps.Inject))
	d.totals[id] = total
	return total
}

// total returns demand(n) for a node visited during analysis.
func (d *demandTable) total(id graph.NodeID) ir.FeatureSet {
	return d.totals[id]
}

// Demand computes the context features a node needs from its caller, for
// inspection. Nodes not reachable from the export report an empty set.
func (c *Compiler) Demand(net *graph.Network, id graph.NodeID) ir.FeatureSet {
	return analyzeDemand(net, c.reg).total(id)
}

// extractOrigin descends from id toward the extractor responsible for the
// missing feature demand, for error attribution. missing must be a
// nonempty subset of demand(id).
func (d *demandTable) extractOrigin(net *graph.Network, reg *registry.Registry, id graph.NodeID, missing ir.FeatureSet) graph.NodeID {
	for {
		n, ok := net.Node(id)
		if !ok {
			return id
		}
		if def, ok := reg.Lookup(n.Type); ok {
			if !def.Context.Extract.Intersect(missing).Empty() {
				return id
			}
		}

		descended := false
		for _, in := range n.Inputs {
			conn, ok := in.(graph.Connection)
			if !ok {
				continue
			}
			calleeMissing := missing.Intersect(d.totals[conn.Node])
			if calleeMissing.Empty() {
				continue
			}
			id = conn.Node
			missing = calleeMissing
			descended = true
			break
		}
		if !descended {
			return id
		}
	}
}
