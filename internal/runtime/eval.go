package runtime

import (
	"fmt"

	"github.com/trellisdev/trellis/internal/ir"
	"github.com/trellisdev/trellis/internal/registry"
)

// Evaluate pulls the value of a live identity under the given context.
//
// When the identity was recorded as a root by an applied update, the
// context is first restricted to that root's demand set, so two calls
// differing only in features the subtree never reads share cache
// entries. Interior identities carry no recorded demand and are
// evaluated under the context as given.
//
// Evaluations run under the tree's read lock and may run concurrently
// with each other; a failing evaluation affects only its own request.
func (r *Runtime) Evaluate(root ir.SNI, ctx ir.Context) (ir.Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[root]
	if !ok {
		return nil, NewMissingNodeError(root)
	}
	if d, recorded := r.demand[root]; recorded {
		ctx = ctx.Restrict(d)
	}

	budget := newEvalBudget(r.budget)
	return r.evalNode(n, ctx, budget)
}

// EvaluateSerialized evaluates and returns the result as canonical JSON,
// the form the editor protocol ships across process boundaries.
func (r *Runtime) EvaluateSerialized(root ir.SNI, ctx ir.Context) ([]byte, error) {
	v, err := r.Evaluate(root, ctx)
	if err != nil {
		return nil, err
	}
	out, err := ir.MarshalCanonical(v)
	if err != nil {
		return nil, fmt.Errorf("serialize result of %s: %w", root, err)
	}
	return out, nil
}

// evalNode computes one node's value under one context. Literals are
// context-independent and returned directly; operations are memoized by
// (identity, context hash). Caller holds the read lock.
func (r *Runtime) evalNode(n *liveNode, ctx ir.Context, budget *evalBudget) (ir.Value, error) {
	if err := budget.visit(n.sni); err != nil {
		return nil, err
	}
	if n.eval == nil {
		return n.value, nil
	}

	ctxHash, err := ctx.Hash()
	if err != nil {
		return nil, fmt.Errorf("evaluate %s %s: context: %w", n.identifier, n.sni, err)
	}
	if v, hit := r.cache.get(n.sni, ctxHash); hit {
		return v, nil
	}

	pull := func(port int, pctx ir.Context) (ir.Value, error) {
		in := n.inputs[port]
		if in.output != 0 {
			return nil, NewBadInputError(n.sni, fmt.Sprintf("port %d references output %d, nodes have a single output", port, in.output))
		}
		return r.evalNode(in.node, pctx, budget)
	}
	call := registry.NewCall(ctx, len(n.inputs), pull)

	v, err := n.eval(call)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s %s: %w", n.identifier, n.sni, err)
	}
	r.cache.put(n.sni, ctxHash, v)
	return v, nil
}
