package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/trellisdev/trellis/internal/graph"
)

// IDGenerator mints identifiers for nodes the session adds.
type IDGenerator interface {
	Generate() graph.NodeID
}

// UUIDv7Generator is the production IDGenerator. The version 7 layout
// puts a millisecond timestamp in the high bits, so node ids sort by
// creation time and document dumps and journal rows stay readable
// without an extra ordering column. Stateless; any goroutine may call
// Generate.
type UUIDv7Generator struct{}

func (g UUIDv7Generator) Generate() graph.NodeID {
	return graph.NodeID(uuid.Must(uuid.NewV7()).String())
}

// SequenceGenerator mints "prefix-1", "prefix-2", ... so tests and
// golden traces see the same ids on every run.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator with the given id prefix.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceGenerator) Generate() graph.NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	return graph.NodeID(fmt.Sprintf("%s-%d", g.prefix, g.n))
}
