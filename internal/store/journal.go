package store

// Kind identifies which mutation a journal row records.
type Kind string

const (
	KindAddNode    Kind = "add_node"
	KindRemoveNode Kind = "remove_node"
	KindSetInput   Kind = "set_input"
	KindSetExport  Kind = "set_export"
	KindUndo       Kind = "undo"
	KindRedo       Kind = "redo"
)

// ValidKind reports whether k is one of the journaled mutation kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindAddNode, KindRemoveNode, KindSetInput, KindSetExport, KindUndo, KindRedo:
		return true
	}
	return false
}

// Mutation is one journal row. The store treats Payload and Previous as
// opaque bytes; the session encodes inputs and node descriptors into them
// and decodes on replay.
type Mutation struct {
	// Seq is the session's logical clock stamp. Rows replay in Seq order.
	Seq int64

	// Doc identifies the document the mutation belongs to.
	Doc string

	// Kind says which mutation was applied.
	Kind Kind

	// Node is the target node identifier, empty for kinds that have none.
	Node string

	// Port is the input slot for set_input rows, -1 otherwise.
	Port int

	// Payload carries the applied value, encoded by the session.
	Payload []byte

	// Previous carries the displaced value, encoded by the session.
	Previous []byte

	// Rev is the compiler revision observed after the mutation applied.
	Rev int64
}
