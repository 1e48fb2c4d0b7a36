package compiler

import (
	"fmt"

	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/ir"
	"github.com/trellisdev/trellis/internal/registry"
)

// Compiler turns an abstract network into incremental runtime updates.
// It owns the process-wide protonode table and a monotonically increasing
// revision counter; both persist across calls so that consecutive
// compiles emit only the difference.
//
// Not safe for concurrent use. The engine funnels every compile through
// its single writer.
type Compiler struct {
	reg      *registry.Registry
	meta     *Metadata
	ambient  ir.FeatureSet
	revision int64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithAmbientFeatures overrides the features the caller promises to
// populate on every evaluation context. An extraction outside this set
// must be satisfied by an injector on the path to the export.
func WithAmbientFeatures(fs ir.FeatureSet) Option {
	return func(c *Compiler) { c.ambient = fs }
}

// New creates a compiler with an empty protonode table.
func New(reg *registry.Registry, opts ...Option) *Compiler {
	c := &Compiler{reg: reg, meta: NewMetadata(), ambient: ir.AmbientFeatures}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metadata exposes the protonode table, read-only by convention.
func (c *Compiler) Metadata() *Metadata { return c.meta }

// Revision returns the revision of the most recent successful compile.
func (c *Compiler) Revision() int64 { return c.revision }

// Reset drops the protonode table but keeps the revision counter running.
func (c *Compiler) Reset() { c.meta.Reset() }

// Result is the outcome of a successful compile: the topologically sorted
// diff plus any recoverable per-node diagnostics.
type Result struct {
	Update      ir.RuntimeUpdate
	Diagnostics []Diagnostic
}

// Compile resolves the network against the current protonode table and
// returns the update that brings the runtime in sync.
//
// The sequence is fixed: structural checks first (cycle detection, then
// demand analysis with the unsatisfied-extract check), both pure, so a
// fatal error leaves the network, the table and the revision untouched.
// Only then are the displaced identities from the mutation log released
// and their downstream dependents cleared, the export subtree re-resolved
// bottom-up, and protonodes stranded at zero usage removed.
//
// Nodes that cannot resolve this round, because an input is unset, a
// connection dangles or the type is unknown, defer with an UNRESOLVED_SNI
// diagnostic at the origin; the compile still succeeds and they pick up
// an identity on a later call once the document completes them.
func (c *Compiler) Compile(net *graph.Network) (*Result, error) {
	if path := findCycle(net); path != nil {
		return nil, NewCycleError(path)
	}

	dem := analyzeDemand(net, c.reg)
	export := net.Export()
	if export != "" {
		if missing := dem.total(export).Diff(c.ambient); !missing.Empty() {
			origin := dem.extractOrigin(net, c.reg, export, missing)
			return nil, NewUnsatisfiedExtractError(origin, missing)
		}
	}

	p := newPass(net, c.reg, c.meta, dem)
	p.invalidate(net.Dirty())

	var root ir.SNI
	if export != "" {
		if n, ok := net.Node(export); ok {
			root = p.resolve(n)
		}
	}

	p.flushRemovals()

	c.revision++
	net.ClearDirty()

	var demand ir.FeatureSet
	if !root.IsZero() {
		demand = dem.total(export)
	}
	return &Result{
		Update: ir.RuntimeUpdate{
			Nodes:      p.updates,
			Root:       root,
			RootDemand: demand,
			Revision:   c.revision,
		},
		Diagnostics: p.diags,
	}, nil
}

// Rebuild drops the protonode table, wipes every resolution off the
// network and compiles from scratch. The resulting update reconstructs
// the whole tree, which is what the engine needs after the runtime
// reports an invariant violation and its borrow tree is discarded.
//
// Unlike Compile, a fatal error here leaves the compiler empty; the
// caller already threw the runtime state away, so there is nothing
// consistent to preserve.
func (c *Compiler) Rebuild(net *graph.Network) (*Result, error) {
	c.meta.Reset()
	net.ClearResolutions()
	return c.Compile(net)
}

// pairField distinguishes the two identities a resolution site can own.
type pairField uint8

const (
	pairEffective pairField = iota
	pairMask
)

// pairKey names one resolution site: a node's own identity (port -1) or
// one of a slot's owned identities. The pairing map remembers which SNI
// each site held before this compile, so a replacement construction can
// emit the removal of its predecessor immediately before itself.
type pairKey struct {
	node  graph.NodeID
	port  int
	field pairField
}

type slotRef struct {
	node *graph.Node
	port int
}

// pass is the per-compile working state.
type pass struct {
	net  *graph.Network
	reg  *registry.Registry
	meta *Metadata
	dem  *demandTable

	// pairing maps each displaced site to the identity it lost.
	pairing map[pairKey]ir.SNI

	// walked guards the staleness recursion.
	walked map[ir.SNI]bool

	// holders and ownedSlots index the network's surviving resolutions
	// by SNI. Built once after the mutations already zeroed their own
	// sites, so everything in here was untouched by the edit itself and
	// is cleared only if the staleness walk reaches it.
	holders    map[ir.SNI][]*graph.Node
	ownedSlots map[ir.SNI][]slotRef

	// deferred marks nodes that failed to resolve this pass, so shared
	// consumers neither re-walk the subtree nor duplicate diagnostics.
	deferred map[graph.NodeID]bool

	updates []ir.ProtonodeUpdate
	diags   []Diagnostic
}

func newPass(net *graph.Network, reg *registry.Registry, meta *Metadata, dem *demandTable) *pass {
	p := &pass{
		net:        net,
		reg:        reg,
		meta:       meta,
		dem:        dem,
		pairing:    make(map[pairKey]ir.SNI),
		walked:     make(map[ir.SNI]bool),
		holders:    make(map[ir.SNI][]*graph.Node),
		ownedSlots: make(map[ir.SNI][]slotRef),
		deferred:   make(map[graph.NodeID]bool),
	}
	for _, n := range net.Nodes() {
		if !n.AssignedSNI.IsZero() {
			p.holders[n.AssignedSNI] = append(p.holders[n.AssignedSNI], n)
		}
		for i := range n.Slots {
			if eff := n.Slots[i].Effective; !eff.IsZero() {
				p.ownedSlots[eff] = append(p.ownedSlots[eff], slotRef{n, i})
			}
		}
	}
	return p
}

// invalidate releases every identity the mutations displaced and clears
// the resolutions downstream of each. The displaced SNI itself keeps any
// references other sites still hold; only its consumers go stale.
func (p *pass) invalidate(dirty []graph.DirtyRef) {
	for _, ref := range dirty {
		res := ref.Resolution
		if res.Effective.IsZero() {
			continue
		}
		p.pairing[pairKey{ref.Node, ref.Port, pairEffective}] = res.Effective
		p.meta.Decrement(res.Effective)
		if !res.Mask.IsZero() {
			p.pairing[pairKey{ref.Node, ref.Port, pairMask}] = res.Mask
			p.meta.Decrement(res.Mask)
		}
		for _, caller := range p.meta.Callers(res.Effective) {
			p.stale(caller)
		}
	}
}

// stale clears every surviving resolution of sni and recurses into its
// consumers. Value literals never consume anything, so a literal slot is
// cleared only when its own site mutates; untouched literals ride through
// the walk and are reused silently.
func (p *pass) stale(sni ir.SNI) {
	if p.walked[sni] {
		return
	}
	p.walked[sni] = true

	for _, n := range p.holders[sni] {
		if n.AssignedSNI != sni {
			continue
		}
		p.pairing[pairKey{n.ID, -1, pairEffective}] = sni
		p.meta.Decrement(sni)
		n.AssignedSNI = 0
	}
	delete(p.holders, sni)

	for _, ref := range p.ownedSlots[sni] {
		slot := &ref.node.Slots[ref.port]
		if slot.Effective != sni {
			continue
		}
		p.pairing[pairKey{ref.node.ID, ref.port, pairEffective}] = sni
		p.meta.Decrement(sni)
		if !slot.Mask.IsZero() {
			p.pairing[pairKey{ref.node.ID, ref.port, pairMask}] = slot.Mask
			p.meta.Decrement(slot.Mask)
		}
		*slot = graph.SlotResolution{}
	}
	delete(p.ownedSlots, sni)

	for _, caller := range p.meta.Callers(sni) {
		p.stale(caller)
	}
}

// resolve returns the node's identity, computing it if stale. Producers
// are resolved before the node itself, so constructions land in the
// update in topological order. Zero means deferred; the diagnostic sits
// at whichever node caused the deferral.
func (p *pass) resolve(n *graph.Node) ir.SNI {
	if !n.AssignedSNI.IsZero() {
		return n.AssignedSNI
	}
	if p.deferred[n.ID] {
		return 0
	}

	def, ok := p.reg.Lookup(n.Type)
	if !ok {
		p.deferNode(n, -1, fmt.Sprintf("unknown node type %q", n.Type))
		return 0
	}
	if def.Arity() != len(n.Inputs) {
		p.deferNode(n, -1, fmt.Sprintf("node has %d inputs, %s takes %d", len(n.Inputs), n.Type, def.Arity()))
		return 0
	}

	refs := make([]ir.InputRef, len(n.Inputs))
	incomplete := false
	for i, in := range n.Inputs {
		var ref ir.InputRef
		switch input := in.(type) {
		case graph.ValueInput:
			ref = p.resolveValueSlot(n, i, input.Value)
		case graph.Connection:
			ref = p.resolveConnection(n, i, input)
		default:
			p.diag(n.ID, i, "input is unset")
		}
		if ref.SNI.IsZero() {
			// Keep going: remaining slots still resolve and cache,
			// and every problem gets reported in one compile.
			incomplete = true
			continue
		}
		refs[i] = ref
	}
	if incomplete {
		p.deferred[n.ID] = true
		return 0
	}

	sni := ir.NodeSNI(def.Identifier, refs)
	p.emit(pairKey{n.ID, -1, pairEffective}, sni, func() ir.ConstructionArgs {
		return ir.OpArgs{Identifier: def.Identifier, Inputs: refs}
	})
	n.AssignedSNI = sni
	return sni
}

// resolveValueSlot returns the identity of a literal slot, hashing and
// constructing the literal protonode if the slot does not already own it.
func (p *pass) resolveValueSlot(n *graph.Node, port int, v ir.Value) ir.InputRef {
	slot := &n.Slots[port]
	if !slot.Effective.IsZero() {
		return ir.InputRef{SNI: slot.Effective}
	}

	sni, err := ir.ValueSNI(v)
	if err != nil {
		p.diag(n.ID, port, fmt.Sprintf("literal cannot be hashed: %v", err))
		return ir.InputRef{}
	}
	p.emit(pairKey{n.ID, port, pairEffective}, sni, func() ir.ConstructionArgs {
		return ir.ValueArgs{Value: v}
	})
	slot.Effective = sni
	return ir.InputRef{SNI: sni}
}

// resolveConnection resolves the producer behind a wire and decides
// whether the edge needs a context restriction spliced in.
//
// The producer's subtree reads keep = demand(producer); the consumer
// hands down arrive = its own demand plus whatever it injects. Whenever
// keep is a strict subset, a nullify protonode goes on the edge so the
// producer's cache key never varies with features it ignores. The
// decision is re-derived from this compile's demand table before any
// slot reuse: a surviving nullifier from an earlier compile whose edge no
// longer wants one (or wants a different mask) is released rather than
// reused, keeping the resolved graph identical to what a from-scratch
// compile of the same document would produce.
func (p *pass) resolveConnection(n *graph.Node, port int, conn graph.Connection) ir.InputRef {
	target, ok := p.net.Node(conn.Node)
	if !ok {
		p.diag(n.ID, port, fmt.Sprintf("connection to missing node %q", conn.Node))
		return ir.InputRef{}
	}
	source := p.resolve(target)
	if source.IsZero() {
		return ir.InputRef{}
	}

	var inject ir.FeatureSet
	if def, ok := p.reg.Lookup(n.Type); ok {
		inject = def.Context.Inject
	}
	keep := p.dem.total(conn.Node)
	arrive := p.dem.total(n.ID).Union(inject)

	slot := &n.Slots[port]
	if keep == arrive {
		if !slot.Effective.IsZero() {
			p.releaseSlot(n, port)
		}
		return ir.InputRef{SNI: source, Output: conn.Output}
	}

	maskValue := ir.Int(int64(keep))
	maskSNI := ir.MustValueSNI(maskValue)
	if !slot.Effective.IsZero() {
		if slot.Mask == maskSNI {
			return ir.InputRef{SNI: slot.Effective}
		}
		p.releaseSlot(n, port)
	}

	p.emit(pairKey{n.ID, port, pairMask}, maskSNI, func() ir.ConstructionArgs {
		return ir.ValueArgs{Value: maskValue}
	})
	nullRefs := []ir.InputRef{
		{SNI: source, Output: conn.Output},
		{SNI: maskSNI, Output: 0},
	}
	nullSNI := ir.NodeSNI(registry.NullifyIdentifier, nullRefs)
	p.emit(pairKey{n.ID, port, pairEffective}, nullSNI, func() ir.ConstructionArgs {
		return ir.OpArgs{Identifier: registry.NullifyIdentifier, Inputs: nullRefs}
	})
	*slot = graph.SlotResolution{Effective: nullSNI, Mask: maskSNI}
	return ir.InputRef{SNI: nullSNI}
}

// releaseSlot drops a slot's owned identities without a replacement at
// the same site. Anything stranded at zero usage leaves in the trailing
// removals.
func (p *pass) releaseSlot(n *graph.Node, port int) {
	slot := &n.Slots[port]
	p.meta.Decrement(slot.Effective)
	if !slot.Mask.IsZero() {
		p.meta.Decrement(slot.Mask)
	}
	*slot = graph.SlotResolution{}
}

// emit records the identity transition at one site. A protonode that
// already exists is reused: one Deduplicated entry, one more reference.
// Otherwise the construction is new; if the same site just lost an
// identity that nothing else kept alive, its removal goes out immediately
// before the replacement so the runtime sees the swap as adjacent.
func (p *pass) emit(key pairKey, sni ir.SNI, args func() ir.ConstructionArgs) {
	if p.meta.Has(sni) {
		p.meta.Increment(sni)
		p.updates = append(p.updates, ir.Deduplicated{SNI: sni})
		return
	}
	if displaced, ok := p.pairing[key]; ok && p.meta.ScheduledZero(displaced) {
		p.removeNow(displaced)
	}
	a := args()
	p.meta.Register(sni, a)
	p.updates = append(p.updates, ir.NewProtonode{SNI: sni, Args: a})
}

func (p *pass) removeNow(sni ir.SNI) {
	p.meta.Remove(sni)
	p.updates = append(p.updates, ir.Remove{SNI: sni})
}

// flushRemovals evicts everything still scheduled at zero usage, in
// scheduling order.
func (p *pass) flushRemovals() {
	for _, sni := range p.meta.TakeScheduled() {
		p.removeNow(sni)
	}
}

func (p *pass) deferNode(n *graph.Node, port int, msg string) {
	p.deferred[n.ID] = true
	p.diag(n.ID, port, msg)
}

func (p *pass) diag(node graph.NodeID, port int, msg string) {
	p.diags = append(p.diags, Diagnostic{
		Code:    DiagUnresolvedSNI,
		Node:    node,
		Port:    port,
		Message: msg,
	})
}
