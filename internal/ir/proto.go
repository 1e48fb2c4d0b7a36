package ir

import (
	"encoding/json"
	"fmt"
)

// InputRef identifies one resolved input of a protonode: the upstream
// identity plus which of its outputs feeds this port.
type InputRef struct {
	SNI    SNI `json:"sni"`
	Output int `json:"output"`
}

// ConstructionArgs is a sealed union describing how to construct an
// executable node: either a literal value, or an implementation identifier
// with the resolved identities of its inputs.
type ConstructionArgs interface {
	constructionArgs() // sealed
}

// ValueArgs constructs a literal node.
type ValueArgs struct {
	Value Value
}

func (ValueArgs) constructionArgs() {}

// OpArgs constructs an operation node. Inputs are ordered and already
// resolved to identities; the borrow tree wires them to live nodes.
type OpArgs struct {
	Identifier string
	Inputs     []InputRef
}

func (OpArgs) constructionArgs() {}

// ProtonodeUpdate is a sealed union of the diff entries a compilation
// emits: a construction, a reuse of an existing protonode, or a removal.
type ProtonodeUpdate interface {
	protonodeUpdate() // sealed
}

// NewProtonode adds a node to the borrow tree. Every InputRef in Args is
// guaranteed to name an identity that is already live or appears earlier
// in the same update.
type NewProtonode struct {
	SNI  SNI
	Args ConstructionArgs
}

func (NewProtonode) protonodeUpdate() {}

// Deduplicated records that a recompiled node resolved to an identity that
// already exists; the borrow tree needs no mutation, only the usage count
// changed.
type Deduplicated struct {
	SNI SNI
}

func (Deduplicated) protonodeUpdate() {}

// Remove evicts a node whose usage count reached zero.
type Remove struct {
	SNI SNI
}

func (Remove) protonodeUpdate() {}

// RuntimeUpdate is the topologically sorted diff of one compilation:
// producers precede consumers, a removal of a displaced identity
// immediately precedes its replacement, and trailing removals come last in
// the order they were scheduled.
type RuntimeUpdate struct {
	// Nodes is the ordered diff. Empty when nothing changed.
	Nodes []ProtonodeUpdate

	// Root is the export's identity, zero when the export is deferred.
	Root SNI

	// RootDemand is the feature set the export's subtree actually reads.
	// Evaluation restricts the supplied context to it on entry.
	RootDemand FeatureSet

	// Revision is the logical revision this update was compiled at.
	Revision int64
}

// Counts returns how many entries of each kind the update carries.
func (u RuntimeUpdate) Counts() (added, deduplicated, removed int) {
	for _, n := range u.Nodes {
		switch n.(type) {
		case NewProtonode:
			added++
		case Deduplicated:
			deduplicated++
		case Remove:
			removed++
		}
	}
	return added, deduplicated, removed
}

// JSON shapes below carry a "kind" discriminator so update dumps are
// self-describing. SNIs render as hex strings throughout.

func marshalArgsJSON(args ConstructionArgs) (json.RawMessage, error) {
	switch a := args.(type) {
	case ValueArgs:
		valueJSON, err := MarshalValue(a.Value)
		if err != nil {
			return nil, fmt.Errorf("value args: %w", err)
		}
		return json.Marshal(struct {
			Kind  string          `json:"kind"`
			Value json.RawMessage `json:"value"`
		}{"value", valueJSON})
	case OpArgs:
		inputs := a.Inputs
		if inputs == nil {
			inputs = []InputRef{}
		}
		return json.Marshal(struct {
			Kind       string     `json:"kind"`
			Identifier string     `json:"identifier"`
			Inputs     []InputRef `json:"inputs"`
		}{"op", a.Identifier, inputs})
	default:
		return nil, fmt.Errorf("unknown construction args type: %T", args)
	}
}

// MarshalJSON implements json.Marshaler for NewProtonode.
func (n NewProtonode) MarshalJSON() ([]byte, error) {
	argsJSON, err := marshalArgsJSON(n.Args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Kind string          `json:"kind"`
		SNI  SNI             `json:"sni"`
		Args json.RawMessage `json:"args"`
	}{"new", n.SNI, argsJSON})
}

// MarshalJSON implements json.Marshaler for Deduplicated.
func (d Deduplicated) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
		SNI  SNI    `json:"sni"`
	}{"dedup", d.SNI})
}

// MarshalJSON implements json.Marshaler for Remove.
func (r Remove) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
		SNI  SNI    `json:"sni"`
	}{"remove", r.SNI})
}

// MarshalJSON implements json.Marshaler for RuntimeUpdate.
func (u RuntimeUpdate) MarshalJSON() ([]byte, error) {
	nodes := make([]json.RawMessage, len(u.Nodes))
	for i, n := range u.Nodes {
		m, ok := n.(json.Marshaler)
		if !ok {
			return nil, fmt.Errorf("unknown update entry type: %T", n)
		}
		raw, err := m.MarshalJSON()
		if err != nil {
			return nil, err
		}
		nodes[i] = raw
	}
	return json.Marshal(struct {
		Nodes      []json.RawMessage `json:"nodes"`
		Root       SNI               `json:"root"`
		RootDemand []string          `json:"root_demand"`
		Revision   int64             `json:"revision"`
	}{nodes, u.Root, demandNames(u.RootDemand), u.Revision})
}

func demandNames(s FeatureSet) []string {
	names := s.Names()
	if names == nil {
		return []string{}
	}
	return names
}
