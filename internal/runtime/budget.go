package runtime

import (
	"github.com/trellisdev/trellis/internal/ir"
)

// DefaultEvalBudget is the default maximum number of node visits per
// evaluation. It bounds linear explosions, higher-order nodes that pull
// their bodies many times over, which recursion depth alone would never
// catch; cyclic structures are already rejected at compile time.
const DefaultEvalBudget = 1_000_000

// evalBudget counts node visits within a single evaluation. Every visit
// counts, cache hits included, so the bound is on work requested rather
// than work performed and does not shift as the cache warms up.
//
// Each evaluation gets its own instance; concurrent evaluations never
// share one.
type evalBudget struct {
	limit  int
	visits int
}

func newEvalBudget(limit int) *evalBudget {
	return &evalBudget{limit: limit}
}

// visit counts one node visit and fails once the budget is exhausted.
// The reported identity is the node whose visit crossed the limit.
func (b *evalBudget) visit(sni ir.SNI) error {
	b.visits++
	if b.visits > b.limit {
		return NewBudgetExceededError(sni, b.visits, b.limit)
	}
	return nil
}
