package history

import (
	"fmt"

	"github.com/trellisdev/trellis/internal/graph"
)

// Record is a sealed union over reversible document mutations. Each
// record holds the pre-mutation state its operation displaced; applying
// the inverse yields the record that redoes the operation. Undo and redo
// are therefore ordinary mutations on the abstract network, recompiled
// like any other edit.
type Record interface {
	// invert applies the inverse mutation to the network and returns
	// the record that reverses it again.
	invert(net *graph.Network) (Record, error)
}

// NodeAdded records an AddNode. Undo removes the node.
type NodeAdded struct {
	ID graph.NodeID
}

func (r NodeAdded) invert(net *graph.Network) (Record, error) {
	removed, err := net.RemoveNode(r.ID)
	if err != nil {
		return nil, fmt.Errorf("remove %s: %w", r.ID, err)
	}
	return NodeRemoved{Removed: removed}, nil
}

// NodeRemoved records a RemoveNode. Undo reinserts the node snapshot,
// reattaches the consumer wires the removal unset, and restores the
// export designation if the node held it.
type NodeRemoved struct {
	Removed *graph.RemovedNode
}

func (r NodeRemoved) invert(net *graph.Network) (Record, error) {
	restored := r.Removed.Node.Snapshot()
	if err := net.Add(restored); err != nil {
		return nil, fmt.Errorf("restore %s: %w", restored.ID, err)
	}
	for _, w := range r.Removed.Detached {
		if _, err := net.SetInput(w.Node, w.Port, w.Previous); err != nil {
			return nil, fmt.Errorf("reattach %s port %d: %w", w.Node, w.Port, err)
		}
	}
	if r.Removed.WasExport {
		if _, err := net.SetExport(restored.ID); err != nil {
			return nil, fmt.Errorf("restore export %s: %w", restored.ID, err)
		}
	}
	return NodeAdded{ID: restored.ID}, nil
}

// InputChanged records a SetInput. Undo writes the previous input back.
type InputChanged struct {
	Node     graph.NodeID
	Port     int
	Previous graph.Input
}

func (r InputChanged) invert(net *graph.Network) (Record, error) {
	displaced, err := net.SetInput(r.Node, r.Port, r.Previous)
	if err != nil {
		return nil, fmt.Errorf("set input %s port %d: %w", r.Node, r.Port, err)
	}
	return InputChanged{Node: r.Node, Port: r.Port, Previous: displaced}, nil
}

// ExportChanged records a SetExport. Undo restores the previous export,
// which may be empty.
type ExportChanged struct {
	Previous graph.NodeID
}

func (r ExportChanged) invert(net *graph.Network) (Record, error) {
	displaced, err := net.SetExport(r.Previous)
	if err != nil {
		return nil, fmt.Errorf("set export %q: %w", r.Previous, err)
	}
	return ExportChanged{Previous: displaced}, nil
}
