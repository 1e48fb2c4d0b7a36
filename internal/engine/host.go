package engine

import (
	"sync"

	"github.com/trellisdev/trellis/internal/compiler"
	"github.com/trellisdev/trellis/internal/registry"
	"github.com/trellisdev/trellis/internal/runtime"
)

// Host bundles the process-wide pieces documents share: the catalog, the
// compiler with its protonode table, and the runtime's borrow tree.
// Sessions attached to one host deduplicate identical subtrees against
// each other and reuse each other's cached evaluations.
//
// Compiles mutate shared state, so the host serializes them behind a
// mutex. Evaluations only take the runtime's read locks and run
// concurrently with everything except Apply.
type Host struct {
	reg  *registry.Registry
	comp *compiler.Compiler
	rt   *runtime.Runtime

	// mu serializes compile-and-apply across sessions.
	mu sync.Mutex
}

// NewHost creates a host from an assembled compiler and runtime. Both must
// be built over the same registry that is passed here; the sessions use it
// to validate node types and look up arities.
func NewHost(reg *registry.Registry, comp *compiler.Compiler, rt *runtime.Runtime) *Host {
	return &Host{reg: reg, comp: comp, rt: rt}
}

// Runtime exposes the shared borrow tree for direct evaluation.
func (h *Host) Runtime() *runtime.Runtime { return h.rt }
