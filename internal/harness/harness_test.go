package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisdev/trellis/internal/ir"
)

// rewireScenario is the canonical editing story: compile Add(1,2) feeding
// Multiply(_,3), rewire the first literal, recompile, then undo.
const rewireScenario = `
name: rewire
description: "Rewire one literal, recompile, undo"
document:
  nodes:
    - id: a
      type: trellis/math/add
      inputs:
        - port: 0
          value: 1
        - port: 1
          value: 2
    - id: m
      type: trellis/math/multiply
      inputs:
        - port: 0
          from: a
        - port: 1
          value: 3
  export: m
steps:
  - op: compile
  - op: evaluate
  - op: set_input
    node: a
    port: 0
    value: 5
  - op: compile
  - op: evaluate
  - op: undo
  - op: compile
  - op: evaluate
assertions:
  - type: eval_result
    step: 1
    value: 9
  - type: eval_result
    step: 2
    value: 21
  - type: eval_result
    step: 3
    value: 9
`

func TestRun_CompileAndEvaluate(t *testing.T) {
	content := `
name: compile_and_evaluate
description: "One compile, one evaluation"
document:
  nodes:
    - id: a
      type: trellis/math/add
      inputs:
        - port: 0
          value: 1
        - port: 1
          value: 2
  export: a
steps:
  - op: compile
  - op: evaluate
assertions:
  - type: update_count
    step: 1
    added: 3
    deduplicated: 0
    removed: 0
  - type: eval_result
    value: 3
  - type: live_count
    count: 3
`
	scenario, err := LoadScenario(writeScenario(t, content))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 2)

	compile := result.Trace[0]
	assert.Equal(t, OpCompile, compile.Step)
	assert.Equal(t, "sni#3", compile.Root)
	require.NotNil(t, compile.Counts)
	assert.Equal(t, 3, compile.Counts.Added)
	assert.Equal(t, 0, compile.Counts.Deduplicated)
	assert.Equal(t, 0, compile.Counts.Removed)

	require.Len(t, compile.Updates, 3)
	assert.Equal(t, "new", compile.Updates[0].Kind)
	assert.True(t, ir.Equal(ir.Int(1), compile.Updates[0].Value))
	assert.Equal(t, "new", compile.Updates[1].Kind)
	assert.True(t, ir.Equal(ir.Int(2), compile.Updates[1].Value))
	assert.Equal(t, "new", compile.Updates[2].Kind)
	assert.Equal(t, "trellis/math/add", compile.Updates[2].Identifier)
	assert.Equal(t, []string{"sni#1", "sni#2"}, compile.Updates[2].Inputs)

	eval := result.Trace[1]
	assert.Equal(t, OpEvaluate, eval.Step)
	assert.True(t, ir.Equal(ir.Int(3), eval.Result))
}

func TestRun_RewireAndUndo(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, rewireScenario))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 8)

	// First compile builds the whole network.
	first := result.Trace[0]
	assert.Equal(t, "sni#5", first.Root)
	assert.Equal(t, 5, first.Counts.Added)
	assert.Equal(t, 0, first.Counts.Removed)

	// The rewire captures the displaced literal.
	set := result.Trace[2]
	assert.Equal(t, OpSetInput, set.Step)
	assert.Equal(t, "a", set.Node)
	assert.Equal(t, 0, set.Port)
	assert.True(t, ir.Equal(ir.Int(5), set.Value))
	assert.True(t, ir.Equal(ir.Map{"value": ir.Int(1)}, set.Previous))

	// Recompile replaces the three identities downstream of the edit and
	// nothing else. The untouched literals keep their labels.
	second := result.Trace[3]
	assert.Equal(t, "sni#8", second.Root)
	assert.Equal(t, 3, second.Counts.Added)
	assert.Equal(t, 3, second.Counts.Removed)
	kinds := make([]string, len(second.Updates))
	for i, u := range second.Updates {
		kinds[i] = u.Kind
	}
	assert.Equal(t, []string{"remove", "new", "remove", "new", "remove", "new"}, kinds)

	// Undo rebuilds the original identities, so the root label returns.
	third := result.Trace[6]
	assert.Equal(t, "sni#5", third.Root)
	assert.Equal(t, 3, third.Counts.Added)
	assert.Equal(t, 3, third.Counts.Removed)

	assert.True(t, ir.Equal(ir.Int(9), result.Trace[1].Result))
	assert.True(t, ir.Equal(ir.Int(21), result.Trace[4].Result))
	assert.True(t, ir.Equal(ir.Int(9), result.Trace[7].Result))
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, rewireScenario))
	require.NoError(t, err)

	result1, err := Run(scenario)
	require.NoError(t, err)
	result2, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, result1.Pass)
	assert.True(t, result2.Pass)

	snap1 := TraceSnapshot{Scenario: scenario.Name, Trace: result1.Trace}
	snap2 := TraceSnapshot{Scenario: scenario.Name, Trace: result2.Trace}
	bytes1, err := snap1.CanonicalTrace()
	require.NoError(t, err)
	bytes2, err := snap2.CanonicalTrace()
	require.NoError(t, err)

	assert.Equal(t, string(bytes1), string(bytes2))
}

func TestRun_FreshSessionPerRun(t *testing.T) {
	// live_count sees only this run's protonodes, so a second run would
	// fail if runtime state leaked between sessions.
	content := `
name: fresh_session
description: "Each run starts with an empty runtime"
document:
  nodes:
    - id: a
      type: trellis/math/add
      inputs:
        - port: 0
          value: 1
        - port: 1
          value: 2
  export: a
steps:
  - op: compile
assertions:
  - type: live_count
    count: 3
`
	scenario, err := LoadScenario(writeScenario(t, content))
	require.NoError(t, err)

	result1, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result1.Pass, "first run: %v", result1.Errors)

	result2, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result2.Pass, "second run: %v", result2.Errors)
}

func TestRun_DedupPair(t *testing.T) {
	content := `
name: dedup_pair
description: "Structurally identical nodes share one identity"
document:
  nodes:
    - id: a
      type: trellis/math/add
      inputs:
        - port: 0
          value: 1
        - port: 1
          value: 2
    - id: b
      type: trellis/math/add
      inputs:
        - port: 0
          value: 1
        - port: 1
          value: 2
    - id: join
      type: trellis/math/add
      inputs:
        - port: 0
          from: a
        - port: 1
          from: b
  export: join
steps:
  - op: compile
  - op: evaluate
assertions:
  - type: dedup_pair
    nodes: [a, b]
  - type: update_count
    added: 4
    deduplicated: 3
  - type: eval_result
    value: 6
`
	scenario, err := LoadScenario(writeScenario(t, content))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_DynamicNodes(t *testing.T) {
	// Steps can grow the network beyond the initial document. Only the
	// export subtree compiles, so the new node stays off the runtime
	// until something downstream of the export reaches it.
	content := `
name: dynamic_nodes
description: "Nodes added by steps join the document but compile only when reachable"
document:
  nodes:
    - id: a
      type: trellis/math/add
      inputs:
        - port: 0
          value: 1
        - port: 1
          value: 2
  export: a
steps:
  - op: add_node
    node: neg
    type: trellis/math/negate
  - op: set_input
    node: neg
    port: 0
    from: a
  - op: compile
  - op: evaluate
assertions:
  - type: eval_result
    value: 3
  - type: update_count
    added: 3
  - type: live_count
    count: 3
`
	scenario, err := LoadScenario(writeScenario(t, content))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 4)
	assert.Equal(t, OpAddNode, result.Trace[0].Step)
	assert.Equal(t, "neg", result.Trace[0].Node)
	assert.Equal(t, "trellis/math/negate", result.Trace[0].Type)
	assert.Equal(t, OpSetInput, result.Trace[1].Step)
	assert.Equal(t, "a", result.Trace[1].From)
}

func TestRun_StepErrorAborts(t *testing.T) {
	content := `
name: step_error
description: "A step the engine rejects aborts the run"
document:
  nodes:
    - id: a
      type: trellis/math/add
steps:
  - op: remove_node
    node: ghost
assertions:
  - type: live_count
    count: 0
`
	scenario, err := LoadScenario(writeScenario(t, content))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0 (remove_node)")
	assert.Contains(t, err.Error(), `node "ghost" not found`)
}

func TestRun_FailedAssertionCollected(t *testing.T) {
	content := `
name: failed_assertion
description: "Assertion failures land on the result, not the error"
document:
  nodes:
    - id: a
      type: trellis/math/add
      inputs:
        - port: 0
          value: 1
        - port: 1
          value: 2
  export: a
steps:
  - op: compile
  - op: evaluate
assertions:
  - type: eval_result
    value: 999
`
	scenario, err := LoadScenario(writeScenario(t, content))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed")
	assert.Contains(t, result.Errors[0], "999")
}

func TestSNILabeler(t *testing.T) {
	l := newSNILabeler()

	assert.Equal(t, "unresolved", l.label(ir.SNI(0)))
	assert.Equal(t, "sni#1", l.label(ir.SNI(0xdead)))
	assert.Equal(t, "sni#2", l.label(ir.SNI(0xbeef)))
	assert.Equal(t, "sni#1", l.label(ir.SNI(0xdead)), "labels are stable")
	assert.Equal(t, "unresolved", l.label(ir.SNI(0)), "zero never gets a label")
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)

	result.AddError("first error")
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, "first error", result.Errors[0])

	result.AddError("second error")
	assert.Len(t, result.Errors, 2)
}

func TestResult_AddEvent(t *testing.T) {
	result := NewResult()
	assert.Empty(t, result.Trace)

	result.AddEvent(TraceEvent{Step: OpCompile, Root: "sni#1"})
	require.Len(t, result.Trace, 1)
	assert.Equal(t, OpCompile, result.Trace[0].Step)
	assert.Equal(t, "sni#1", result.Trace[0].Root)

	result.AddEvent(TraceEvent{Step: OpEvaluate, Result: ir.Int(4)})
	assert.Len(t, result.Trace, 2)
	assert.True(t, result.Pass, "events alone never fail a result")
}
