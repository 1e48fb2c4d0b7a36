package graph

import (
	"encoding/json"
	"fmt"

	"github.com/trellisdev/trellis/internal/ir"
)

// NodeID identifies an abstract node within one document. IDs are opaque
// strings chosen by the caller (the engine issues UUIDv7), never reused,
// and unrelated to content identity.
type NodeID string

// Position is editor placement metadata. It never feeds identity hashing.
type Position struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Input is a sealed union over the three states of an input slot: a
// literal value, a connection to another node's output, or unset.
type Input interface {
	input() // sealed
}

// ValueInput is an inline literal.
type ValueInput struct {
	Value ir.Value
}

func (ValueInput) input() {}

// Connection wires the slot to an output of another node. The target is
// not checked at mutation time; a dangling connection defers the node at
// compile time.
type Connection struct {
	Node   NodeID
	Output int
}

func (Connection) input() {}

// Unset is an unconnected slot. Compiling a node with an unset input
// defers it.
type Unset struct{}

func (Unset) input() {}

// SlotResolution is compiler bookkeeping for one input slot: the identity
// of the protonode the slot itself owns. A value slot owns its literal.
// A connection slot owns nothing unless the compiler spliced a context
// restriction onto the edge, in which case Effective is the restriction
// node and Mask its mask literal. Zero means unresolved or not owned.
type SlotResolution struct {
	Effective ir.SNI
	Mask      ir.SNI
}

// IsZero reports whether the slot owns no resolved identity.
func (s SlotResolution) IsZero() bool {
	return s.Effective.IsZero() && s.Mask.IsZero()
}

// Node is one abstract node. Everything except the two resolution fields
// is user-visible document state.
type Node struct {
	ID     NodeID
	Type   string // catalog identifier
	Inputs []Input
	Pos    Position

	// AssignedSNI is the node's current resolved identity, zero when
	// stale or deferred. Owned by the compiler.
	AssignedSNI ir.SNI

	// Slots mirrors Inputs index-for-index with per-slot resolutions.
	// Owned by the compiler.
	Slots []SlotResolution
}

// NewNode builds an unresolved node with arity unset inputs.
func NewNode(id NodeID, nodeType string, arity int, pos Position) *Node {
	inputs := make([]Input, arity)
	for i := range inputs {
		inputs[i] = Unset{}
	}
	return &Node{
		ID:     id,
		Type:   nodeType,
		Inputs: inputs,
		Pos:    pos,
		Slots:  make([]SlotResolution, arity),
	}
}

// Snapshot returns a deep copy of the node's document state with the
// resolution fields zeroed. Used for history records: a restored node is
// recompiled from scratch.
func (n *Node) Snapshot() *Node {
	inputs := make([]Input, len(n.Inputs))
	copy(inputs, n.Inputs)
	return &Node{
		ID:     n.ID,
		Type:   n.Type,
		Inputs: inputs,
		Pos:    n.Pos,
		Slots:  make([]SlotResolution, len(n.Inputs)),
	}
}

// Connected reports whether the slot at port is a connection to target.
func (n *Node) Connected(port int, target NodeID) bool {
	if port < 0 || port >= len(n.Inputs) {
		return false
	}
	c, ok := n.Inputs[port].(Connection)
	return ok && c.Node == target
}

// Input JSON is kind-tagged so journal payloads and update dumps are
// self-describing.

type inputJSON struct {
	Kind   string          `json:"kind"`
	Value  json.RawMessage `json:"value,omitempty"`
	Node   NodeID          `json:"node,omitempty"`
	Output *int            `json:"output,omitempty"`
}

// MarshalInput serializes an input to its kind-tagged JSON form.
func MarshalInput(in Input) ([]byte, error) {
	switch v := in.(type) {
	case ValueInput:
		raw, err := ir.MarshalValue(v.Value)
		if err != nil {
			return nil, fmt.Errorf("value input: %w", err)
		}
		return json.Marshal(inputJSON{Kind: "value", Value: raw})
	case Connection:
		out := v.Output
		return json.Marshal(inputJSON{Kind: "connection", Node: v.Node, Output: &out})
	case Unset:
		return json.Marshal(inputJSON{Kind: "unset"})
	case nil:
		return nil, fmt.Errorf("nil input")
	default:
		return nil, fmt.Errorf("unknown input type: %T", in)
	}
}

// UnmarshalInput parses the kind-tagged JSON form.
func UnmarshalInput(data []byte) (Input, error) {
	var raw inputJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	switch raw.Kind {
	case "value":
		v, err := ir.DecodeValue(raw.Value)
		if err != nil {
			return nil, fmt.Errorf("value input: %w", err)
		}
		return ValueInput{Value: v}, nil
	case "connection":
		if raw.Node == "" {
			return nil, fmt.Errorf("connection input: missing node")
		}
		output := 0
		if raw.Output != nil {
			output = *raw.Output
		}
		if output < 0 {
			return nil, fmt.Errorf("connection input: negative output %d", output)
		}
		return Connection{Node: raw.Node, Output: output}, nil
	case "unset":
		return Unset{}, nil
	default:
		return nil, fmt.Errorf("unknown input kind %q", raw.Kind)
	}
}
