package runtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisdev/trellis/internal/compiler"
	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/ir"
	"github.com/trellisdev/trellis/internal/registry"
)

// TestEvaluate_MissingNode tests evaluating an identity that was never
// applied.
func TestEvaluate_MissingNode(t *testing.T) {
	r := New(registry.Builtin())
	_, err := r.Evaluate(ir.SNI(42), ir.Context{})
	require.Error(t, err)
	assert.True(t, IsMissingNodeError(err))
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ir.SNI(42), re.SNI)
}

// TestEvaluate_BudgetExceeded tests that evaluation stops once the visit
// budget runs out.
func TestEvaluate_BudgetExceeded(t *testing.T) {
	r := New(registry.Builtin(), WithEvalBudget(3))
	c := compiler.New(registry.Builtin())
	root := compileApply(t, c, r, arithmeticDocument(t))

	// The cold tree needs five visits.
	_, err := r.Evaluate(root, ir.Context{})
	require.Error(t, err)
	assert.True(t, IsBudgetExceededError(err))
}

// TestEvaluate_RootDemandRestrictsContext tests that the caller's context
// is narrowed to what the export tree actually reads, so fields nobody
// reads do not split the cache.
func TestEvaluate_RootDemandRestrictsContext(t *testing.T) {
	net := graph.NewNetwork()
	addNode(t, net, "t", "trellis/context/animation_time", 0)
	exportNode(t, net, "t")

	r := New(registry.Builtin())
	c := compiler.New(registry.Builtin())
	root := compileApply(t, c, r, net)

	base := ir.Context{}.WithAnimationTime(1.5)
	v1, err := r.Evaluate(root, base.WithRealTime(100))
	require.NoError(t, err)
	v2, err := r.Evaluate(root, base.WithRealTime(200))
	require.NoError(t, err)

	assert.Equal(t, ir.Int(1500), v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, r.CacheLen(), "differing wall clocks collapse to one key")
}

// TestEvaluate_MissingFeatureIsPerRequest tests that a context lacking a
// demanded feature fails that evaluation only and leaves the tree usable.
func TestEvaluate_MissingFeatureIsPerRequest(t *testing.T) {
	net := graph.NewNetwork()
	addNode(t, net, "t", "trellis/context/animation_time", 0)
	exportNode(t, net, "t")

	r := New(registry.Builtin())
	c := compiler.New(registry.Builtin())
	root := compileApply(t, c, r, net)

	_, err := r.Evaluate(root, ir.Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "animation_time")

	v, err := r.Evaluate(root, ir.Context{}.WithAnimationTime(2))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2000), v)
}

// TestEvaluate_NullifierSharesRestrictedEntries tests the point of
// nullification at evaluation time: the subtree behind a nullifier is
// cached under the narrowed context, so changing an upstream-irrelevant
// field reuses its entry.
func TestEvaluate_NullifierSharesRestrictedEntries(t *testing.T) {
	net := graph.NewNetwork()
	addNode(t, net, "t", "trellis/context/animation_time", 0)
	addNode(t, net, "n", "trellis/math/negate", 1)
	addNode(t, net, "e", "trellis/math/add", 2)
	setValue(t, net, "n", 0, ir.Int(4))
	wire(t, net, "e", 0, "t")
	wire(t, net, "e", 1, "n")
	exportNode(t, net, "e")

	r := New(registry.Builtin())
	c := compiler.New(registry.Builtin())
	root := compileApply(t, c, r, net)
	assert.Equal(t, 6, r.Len(), "negate gets a nullifier and its mask literal")

	v, err := r.Evaluate(root, ir.Context{}.WithAnimationTime(2.0))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1996), v)
	assert.Equal(t, 4, r.CacheLen(), "add, clock, nullifier, negate")

	// Only the three time-sensitive entries miss; negate is reused under
	// its emptied context.
	v, err = r.Evaluate(root, ir.Context{}.WithAnimationTime(3.0))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2996), v)
	assert.Equal(t, 7, r.CacheLen())
}

// TestEvaluate_RepeatInjectsIndex tests the repeat combinator driving an
// index extractor through injected contexts.
func TestEvaluate_RepeatInjectsIndex(t *testing.T) {
	net := graph.NewNetwork()
	addNode(t, net, "i", "trellis/context/index", 0)
	addNode(t, net, "rep", "trellis/iter/repeat", 2)
	setValue(t, net, "rep", 0, ir.Int(3))
	wire(t, net, "rep", 1, "i")
	exportNode(t, net, "rep")

	r := New(registry.Builtin())
	c := compiler.New(registry.Builtin())
	root := compileApply(t, c, r, net)

	v, err := r.Evaluate(root, ir.Context{})
	require.NoError(t, err)
	assert.Equal(t, ir.List{ir.Int(0), ir.Int(1), ir.Int(2)}, v)
}

// TestEvaluate_BadOutputIndex tests that referencing a nonzero output
// fails at pull time with a request-scoped error.
func TestEvaluate_BadOutputIndex(t *testing.T) {
	r := New(registry.Builtin())

	v1 := ir.MustValueSNI(ir.Int(1))
	op := ir.NodeSNI("trellis/math/negate", []ir.InputRef{{SNI: v1, Output: 2}})
	require.NoError(t, r.Apply(ir.RuntimeUpdate{
		Nodes: []ir.ProtonodeUpdate{
			ir.NewProtonode{SNI: v1, Args: ir.ValueArgs{Value: ir.Int(1)}},
			ir.NewProtonode{SNI: op, Args: ir.OpArgs{Identifier: "trellis/math/negate", Inputs: []ir.InputRef{{SNI: v1, Output: 2}}}},
		},
		Root:     op,
		Revision: 1,
	}))

	_, err := r.Evaluate(op, ir.Context{})
	require.Error(t, err)
	assert.True(t, IsBadInputError(err))
}

// TestEvaluateSerialized tests the canonical byte form of a result.
func TestEvaluateSerialized(t *testing.T) {
	r := New(registry.Builtin())
	c := compiler.New(registry.Builtin())
	root := compileApply(t, c, r, arithmeticDocument(t))

	out, err := r.EvaluateSerialized(root, ir.Context{})
	require.NoError(t, err)
	assert.Equal(t, "9", string(out))
}

// TestEvaluate_ConcurrentReads tests many simultaneous evaluations of
// one tree.
func TestEvaluate_ConcurrentReads(t *testing.T) {
	r := New(registry.Builtin())
	c := compiler.New(registry.Builtin())
	root := compileApply(t, c, r, arithmeticDocument(t))

	const workers = 8
	results := make(chan ir.Value, workers*20)
	errs := make(chan error, workers*20)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				v, err := r.Evaluate(root, ir.Context{})
				if err != nil {
					errs <- err
					return
				}
				results <- v
			}
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent evaluate failed: %v", err)
	}
	for v := range results {
		assert.Equal(t, ir.Int(9), v)
	}
}
