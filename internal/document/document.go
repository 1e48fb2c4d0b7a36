// Package document defines the on-disk YAML form of a node network: the
// nodes, their literal and wired inputs, and the exported node. The same
// shape is read from standalone document files by the CLI and embedded
// under the document key of harness scenarios.
package document

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trellisdev/trellis/internal/compiler"
	"github.com/trellisdev/trellis/internal/engine"
	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/ir"
	"github.com/trellisdev/trellis/internal/registry"
)

// File is a parsed document file.
type File struct {
	// Nodes lists the document's nodes. File order is the order they are
	// added when the file is applied to a session.
	Nodes []NodeSpec `yaml:"nodes"`

	// Export names the node whose value the document produces. A document
	// without an export compiles to an empty update.
	Export string `yaml:"export,omitempty"`
}

// NodeSpec describes one node.
type NodeSpec struct {
	// ID is the document-side identifier, unique within the file.
	ID string `yaml:"id"`

	// Type is the catalog identifier (e.g. "trellis/math/add").
	Type string `yaml:"type"`

	// Pos is editor placement metadata.
	Pos graph.Position `yaml:"pos,omitempty"`

	// Inputs assigns the node's input ports.
	Inputs []InputSpec `yaml:"inputs,omitempty"`
}

// InputSpec assigns one input port. Exactly one of Value and From must be
// set: a literal constant, or a wire from another node.
type InputSpec struct {
	Port int `yaml:"port"`

	// Value is the literal for a constant input. Kept as a raw YAML node
	// so conversion errors can report the source line.
	Value *yaml.Node `yaml:"value,omitempty"`

	// From names the producing node for a wired input.
	From string `yaml:"from,omitempty"`

	// Output selects which of the producer's outputs feeds this port.
	Output int `yaml:"output,omitempty"`
}

// Validation error codes for document files.
const (
	ErrCodeNoNodes    = "E101" // document defines no nodes
	ErrCodeNodeID     = "E102" // missing or duplicate node id
	ErrCodeNodeType   = "E103" // missing or unknown node type
	ErrCodeInputShape = "E104" // input is not exactly one of value / from
	ErrCodeInputValue = "E105" // literal is not an IR value
	ErrCodeInputPort  = "E106" // port out of range for the node type
	ErrCodeInputFrom  = "E107" // wire references an unknown node
	ErrCodeExport     = "E108" // export references an unknown node
)

// Parse decodes a document file. Unknown fields are rejected so typos
// surface as parse errors rather than silently ignored keys. Parse does
// not validate; call Validate to collect findings.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &f, nil
}

// Load reads and parses a document file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document file: %w", err)
	}
	return Parse(data)
}

// Validate checks the file against the catalog and returns every finding.
// An empty slice means the file is well formed and every referenced type
// and node exists.
func (f *File) Validate(reg *registry.Registry) []compiler.ValidationError {
	var errs []compiler.ValidationError
	add := func(field, code, msg string, line int) {
		errs = append(errs, compiler.ValidationError{
			Field:   field,
			Message: msg,
			Code:    code,
			Line:    line,
		})
	}

	if len(f.Nodes) == 0 {
		add("nodes", ErrCodeNoNodes, "document defines no nodes", 0)
		return errs
	}

	ids := make(map[string]bool, len(f.Nodes))
	for i, n := range f.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		switch {
		case n.ID == "":
			add(field+".id", ErrCodeNodeID, "node id is required", 0)
		case ids[n.ID]:
			add(field+".id", ErrCodeNodeID, fmt.Sprintf("duplicate node id %q", n.ID), 0)
		default:
			ids[n.ID] = true
		}

		arity := -1
		if n.Type == "" {
			add(field+".type", ErrCodeNodeType, "node type is required", 0)
		} else if def, ok := reg.Lookup(n.Type); !ok {
			add(field+".type", ErrCodeNodeType, fmt.Sprintf("unknown node type %q", n.Type), 0)
		} else {
			arity = def.Arity()
		}

		for j, in := range n.Inputs {
			inField := fmt.Sprintf("%s.inputs[%d]", field, j)
			hasValue := in.Value != nil
			hasFrom := in.From != ""
			switch {
			case hasValue && hasFrom:
				add(inField, ErrCodeInputShape, "input has both value and from", 0)
			case !hasValue && !hasFrom:
				add(inField, ErrCodeInputShape, "input needs exactly one of value or from", 0)
			case hasValue:
				if _, err := decodeValue(in.Value); err != nil {
					add(inField+".value", ErrCodeInputValue, err.Error(), in.Value.Line)
				}
			}
			if in.Port < 0 || (arity >= 0 && in.Port >= arity) {
				add(inField+".port", ErrCodeInputPort,
					fmt.Sprintf("port %d out of range for %s", in.Port, n.Type), 0)
			}
		}
	}

	for i, n := range f.Nodes {
		for j, in := range n.Inputs {
			if in.From != "" && !ids[in.From] {
				add(fmt.Sprintf("nodes[%d].inputs[%d].from", i, j), ErrCodeInputFrom,
					fmt.Sprintf("wire references unknown node %q", in.From), 0)
			}
		}
	}

	if f.Export != "" && !ids[f.Export] {
		add("export", ErrCodeExport, fmt.Sprintf("export references unknown node %q", f.Export), 0)
	}

	return errs
}

// Input converts the spec to a graph input.
func (in InputSpec) Input() (graph.Input, error) {
	hasValue := in.Value != nil
	hasFrom := in.From != ""
	switch {
	case hasValue && hasFrom:
		return nil, fmt.Errorf("input has both value and from")
	case hasValue:
		v, err := decodeValue(in.Value)
		if err != nil {
			return nil, err
		}
		return graph.ValueInput{Value: v}, nil
	case hasFrom:
		return graph.Connection{Node: graph.NodeID(in.From), Output: in.Output}, nil
	default:
		return nil, fmt.Errorf("input needs exactly one of value or from")
	}
}

// Apply adds the file's nodes to a session, wires their inputs and sets
// the export. The session's document is assumed empty; callers validate
// the file first, so failures here are session-level (a closed session,
// a catalog mismatch).
func (f *File) Apply(s *engine.Session) error {
	for i, n := range f.Nodes {
		if err := s.AddNodeWithID(graph.NodeID(n.ID), n.Type, n.Pos); err != nil {
			return fmt.Errorf("node %d (%s): %w", i, n.ID, err)
		}
	}
	for _, n := range f.Nodes {
		for _, in := range n.Inputs {
			input, err := in.Input()
			if err != nil {
				return fmt.Errorf("node %s port %d: %w", n.ID, in.Port, err)
			}
			if _, err := s.SetInput(graph.NodeID(n.ID), in.Port, input); err != nil {
				return fmt.Errorf("node %s port %d: %w", n.ID, in.Port, err)
			}
		}
	}
	if f.Export != "" {
		if err := s.SetExport(graph.NodeID(f.Export)); err != nil {
			return fmt.Errorf("export %s: %w", f.Export, err)
		}
	}
	return nil
}

// decodeValue converts a raw YAML literal to an IR value. Null and floats
// are rejected, matching what the identity hash accepts.
func decodeValue(node *yaml.Node) (ir.Value, error) {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	return ir.FromGo(raw)
}
