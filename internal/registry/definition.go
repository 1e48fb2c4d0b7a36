package registry

import (
	"fmt"

	"cuelang.org/go/cue/token"

	"github.com/trellisdev/trellis/internal/ir"
)

// NullifyIdentifier names the context-restriction node the compiler splices
// onto edges whose producer is evaluated under a wider context than the
// consumer demands. It takes the source on port 0 and an integer keep-mask
// literal on port 1.
const NullifyIdentifier = "trellis/context/nullify"

// InputSpec describes one input port of a node type.
type InputSpec struct {
	Name string
	Type string
}

// NodeSpec is the catalog metadata for one node type, as parsed from CUE.
// It carries everything the compiler needs; evaluation behavior is bound
// separately when the Registry is assembled.
type NodeSpec struct {
	Identifier string
	Doc        string
	Output     string
	Inputs     []InputSpec
	Context    ir.ContextDependencies
	Pos        token.Pos
}

// Arity is the number of input ports.
func (s NodeSpec) Arity() int { return len(s.Inputs) }

// Definition is a catalog entry bound to its evaluator.
type Definition struct {
	NodeSpec
	Eval EvalFunc
}

// EvalFunc computes a node's output for one invocation. Inputs are pulled
// through the Call on demand, so evaluators that invoke a subtree several
// times under different contexts (iteration, time remapping) pay for each
// pull they make and no more.
type EvalFunc func(call *Call) (ir.Value, error)

// PullFunc resolves one input port under a given context. The runtime
// supplies it when it constructs a Call.
type PullFunc func(port int, ctx ir.Context) (ir.Value, error)

// Call is one invocation of a node: the context it was invoked under plus
// access to its input ports.
type Call struct {
	ctx   ir.Context
	arity int
	pull  PullFunc
}

// NewCall builds a Call for an evaluator invocation.
func NewCall(ctx ir.Context, arity int, pull PullFunc) *Call {
	return &Call{ctx: ctx, arity: arity, pull: pull}
}

// Context is the context this invocation runs under.
func (c *Call) Context() ir.Context { return c.ctx }

// Arity is the number of input ports available to Pull.
func (c *Call) Arity() int { return c.arity }

// Pull resolves an input port under the invocation context.
func (c *Call) Pull(port int) (ir.Value, error) {
	return c.PullWith(port, c.ctx)
}

// PullWith resolves an input port under an explicit context. Evaluators
// that inject or modify context features use this to pass the adjusted
// context upstream.
func (c *Call) PullWith(port int, ctx ir.Context) (ir.Value, error) {
	if port < 0 || port >= c.arity {
		return nil, fmt.Errorf("pull port %d out of range (arity %d)", port, c.arity)
	}
	return c.pull(port, ctx)
}

// valueTypes is the closed set of type names a catalog may use. "any"
// accepts every value kind.
var valueTypes = map[string]bool{
	"string": true,
	"int":    true,
	"bool":   true,
	"list":   true,
	"map":    true,
	"any":    true,
}

// ValidType reports whether name is a legal catalog type name.
func ValidType(name string) bool { return valueTypes[name] }

// TypeAccepts reports whether a declared catalog type admits a concrete
// value kind (as returned by ir.Kind).
func TypeAccepts(declared, kind string) bool {
	return declared == "any" || declared == kind
}
