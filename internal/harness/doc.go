// Package harness provides scenario testing for the graph engine.
//
// The harness loads a document, drives a live session through a list of
// editing and evaluation steps, records a normalized trace of what the
// compiler and runtime did, and checks assertions against that trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	document:
//	  nodes:
//	    - id: a
//	      type: trellis/math/add
//	      inputs:
//	        - port: 0
//	          value: 1
//	        - port: 1
//	          value: 2
//	  export: a
//	steps:
//	  - op: compile
//	  - op: evaluate
//	  - op: set_input
//	    node: a
//	    port: 0
//	    value: 5
//	assertions:
//	  - type: eval_result
//	    step: 2
//	    value: 3
//	  - type: update_count
//	    step: 1
//	    added: 3
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - update_kinds: Verifies the kinds of a compile step's updates in order
//   - update_count: Verifies a compile step's added/deduplicated/removed totals
//   - eval_result: Verifies the value an evaluate step produced
//   - live_count: Verifies how many protonodes the runtime holds
//   - dedup_pair: Verifies two document nodes resolved to the same identity
//
// The step field is a 1-based index into the matching events for the
// assertion's step kind; step 0 (or omitted) means the last one.
//
// # Deterministic Testing
//
// Every scenario runs against a fresh session with its own registry,
// compiler and runtime, so nothing leaks between scenarios. Node ids
// minted during a run come from a sequence generator, and identities are
// reported as sni#1, sni#2, ... in first-seen order rather than as raw
// hashes. This keeps traces identical across runs and across machines,
// which is what golden comparison needs.
//
// Golden files live under testdata/golden and are managed by goldie.
// Regenerate them with:
//
//	go test ./internal/harness -update
//
// # Usage
//
// Load a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/arithmetic_rewire.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Execute it:
//
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
