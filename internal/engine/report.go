package engine

import (
	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/ir"
)

// Report is an inspection snapshot of one document node: its resolved
// identity, how many resolution sites across all documents on the host
// share that identity, the context features its subtree demands, and
// whether a live executable node currently backs it.
type Report struct {
	// Node is the document-side identifier.
	Node graph.NodeID `json:"node"`

	// Type is the catalog identifier, empty for untyped nodes.
	Type string `json:"type"`

	// SNI is the node's stable identity from the last compile, zero while
	// the node is deferred.
	SNI ir.SNI `json:"sni"`

	// Resolved reports whether the node currently owns an identity.
	Resolved bool `json:"resolved"`

	// Usage is the identity's reference count in the shared protonode
	// table. Zero when the node is unresolved.
	Usage int `json:"usage"`

	// Demand lists the context features the node's subtree reads,
	// in declaration order.
	Demand []string `json:"demand"`

	// Live reports whether the runtime holds an executable node under
	// this identity.
	Live bool `json:"live"`
}
