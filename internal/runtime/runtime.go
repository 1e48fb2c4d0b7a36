package runtime

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/trellisdev/trellis/internal/ir"
	"github.com/trellisdev/trellis/internal/registry"
)

// liveNode is one executable protonode in the borrow tree. A literal
// carries its value and no evaluator; an operation carries its evaluator
// and resolved upstream pointers.
type liveNode struct {
	sni        ir.SNI
	identifier string
	value      ir.Value
	eval       registry.EvalFunc
	inputs     []liveInput
}

type liveInput struct {
	node   *liveNode
	output int
}

// Runtime is the process-wide execution state: the borrow tree of live
// protonodes, the per-root demand sets recorded by applied updates, and
// the evaluation cache. One Runtime is shared by every open document, so
// identical subgraphs across documents resolve to the same live node and
// the same cache entries.
//
// Apply takes the write lock; Evaluate takes the read lock and may run
// concurrently with other evaluations.
type Runtime struct {
	reg *registry.Registry
	log *slog.Logger

	mu     sync.RWMutex
	nodes  map[ir.SNI]*liveNode
	demand map[ir.SNI]ir.FeatureSet

	cache  *evalCache
	budget int
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(r *Runtime) { r.log = log }
}

// WithEvalBudget sets the maximum node visits per evaluation.
// Defaults to DefaultEvalBudget.
func WithEvalBudget(limit int) Option {
	return func(r *Runtime) {
		if limit > 0 {
			r.budget = limit
		}
	}
}

// WithCacheShards sets the evaluation cache shard count, rounded up to a
// power of two. Defaults to 16.
func WithCacheShards(shards int) Option {
	return func(r *Runtime) { r.cache = newEvalCache(shards) }
}

// New creates an empty Runtime executing definitions from reg.
func New(reg *registry.Registry, opts ...Option) *Runtime {
	r := &Runtime{
		reg:    reg,
		log:    slog.Default(),
		nodes:  make(map[ir.SNI]*liveNode),
		demand: make(map[ir.SNI]ir.FeatureSet),
		cache:  newEvalCache(defaultCacheShards),
		budget: DefaultEvalBudget,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply folds one compiled update into the borrow tree in a single
// forward pass under the write lock. Updates are topologically sorted, so
// every input reference resolves to a node that is already live or was
// constructed earlier in the same pass; a removal followed by a
// reconstruction of the same identity within one update is fine for the
// same reason.
//
// A reference that does not resolve is a MISSING_UPSTREAM invariant
// violation: the apply stops where it is, the error is logged, and the
// caller is expected to discard the tree (Reset) and rebuild from
// scratch. Re-adding an identity that is already live replaces the entry;
// identities are content-addressed, so the construction is identical and
// cached results stay valid.
func (r *Runtime) Apply(update ir.RuntimeUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range update.Nodes {
		var err error
		switch e := entry.(type) {
		case ir.NewProtonode:
			err = r.construct(e)
		case ir.Deduplicated:
			if _, live := r.nodes[e.SNI]; !live {
				err = NewMissingUpstreamError(e.SNI)
			}
		case ir.Remove:
			delete(r.nodes, e.SNI)
			delete(r.demand, e.SNI)
			r.cache.evict(e.SNI)
		default:
			err = fmt.Errorf("unknown update entry type: %T", entry)
		}
		if err != nil {
			r.log.Error("runtime update apply failed",
				"error", err,
				"rev", update.Revision,
				"live", len(r.nodes),
			)
			return err
		}
	}

	if !update.Root.IsZero() {
		r.demand[update.Root] = update.RootDemand
	}

	added, deduplicated, removed := update.Counts()
	r.log.Debug("runtime update applied",
		"rev", update.Revision,
		"added", added,
		"deduplicated", deduplicated,
		"removed", removed,
		"live", len(r.nodes),
	)
	return nil
}

// construct builds a live node from its args and links it in.
// Caller holds the write lock.
func (r *Runtime) construct(e ir.NewProtonode) error {
	n := &liveNode{sni: e.SNI}
	switch args := e.Args.(type) {
	case ir.ValueArgs:
		n.value = args.Value
	case ir.OpArgs:
		def, ok := r.reg.Lookup(args.Identifier)
		if !ok {
			return NewBadInputError(e.SNI, fmt.Sprintf("no definition for identifier %q", args.Identifier))
		}
		n.identifier = args.Identifier
		n.eval = def.Eval
		n.inputs = make([]liveInput, len(args.Inputs))
		for i, ref := range args.Inputs {
			upstream, live := r.nodes[ref.SNI]
			if !live {
				return NewMissingUpstreamError(ref.SNI)
			}
			n.inputs[i] = liveInput{node: upstream, output: ref.Output}
		}
	default:
		return fmt.Errorf("unknown construction args type: %T", e.Args)
	}
	r.nodes[e.SNI] = n
	return nil
}

// Reset discards every live node, recorded demand set and cache entry.
// Used before re-applying a from-scratch rebuild.
func (r *Runtime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = make(map[ir.SNI]*liveNode)
	r.demand = make(map[ir.SNI]ir.FeatureSet)
	r.cache.reset()
}

// Len returns the number of live nodes.
func (r *Runtime) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Has reports whether an identity is live.
func (r *Runtime) Has(sni ir.SNI) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[sni]
	return ok
}

// Demand returns the recorded root demand for an identity, if any update
// has named it as a root.
func (r *Runtime) Demand(sni ir.SNI) (ir.FeatureSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.demand[sni]
	return d, ok
}

// CacheLen returns the number of cached evaluation results.
func (r *Runtime) CacheLen() int {
	return r.cache.len()
}
