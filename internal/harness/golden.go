package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/trellisdev/trellis/internal/ir"
)

// TraceSnapshot captures the complete normalized trace of one scenario
// run for golden comparison.
type TraceSnapshot struct {
	Scenario string
	Trace    []TraceEvent
}

// canonicalValue renders the snapshot as an IR map so the golden bytes
// come from the same canonical serializer as everything else the system
// compares byte-for-byte.
func (s *TraceSnapshot) canonicalValue() ir.Map {
	events := make(ir.List, len(s.Trace))
	for i, ev := range s.Trace {
		events[i] = eventValue(ev)
	}
	return ir.Map{
		"scenario": ir.String(s.Scenario),
		"trace":    events,
	}
}

// eventValue converts one trace event, including only the fields that
// apply to its step so goldens stay tight.
func eventValue(ev TraceEvent) ir.Value {
	m := ir.Map{"step": ir.String(ev.Step)}
	if ev.Node != "" {
		m["node"] = ir.String(ev.Node)
	}
	if ev.Type != "" {
		m["type"] = ir.String(ev.Type)
	}

	switch ev.Step {
	case OpSetInput:
		m["port"] = ir.Int(ev.Port)
		if ev.Value != nil {
			m["value"] = ev.Value
		}
		if ev.From != "" {
			m["from"] = ir.String(ev.From)
		}
		if ev.Previous != nil {
			m["previous"] = ev.Previous
		}
	case OpCompile:
		entries := make(ir.List, len(ev.Updates))
		for i, u := range ev.Updates {
			entries[i] = updateValue(u)
		}
		m["updates"] = entries
		m["root"] = ir.String(ev.Root)
		m["counts"] = ir.Map{
			"added":        ir.Int(ev.Counts.Added),
			"deduplicated": ir.Int(ev.Counts.Deduplicated),
			"removed":      ir.Int(ev.Counts.Removed),
		}
		if len(ev.Diagnostics) > 0 {
			diags := make(ir.List, len(ev.Diagnostics))
			for i, d := range ev.Diagnostics {
				diags[i] = ir.String(d)
			}
			m["diagnostics"] = diags
		}
	case OpEvaluate:
		if ev.Result != nil {
			m["result"] = ev.Result
		}
	}
	return m
}

func updateValue(u UpdateEntry) ir.Value {
	m := ir.Map{"kind": ir.String(u.Kind), "sni": ir.String(u.SNI)}
	if u.Value != nil {
		m["value"] = u.Value
	}
	if u.Identifier != "" {
		m["identifier"] = ir.String(u.Identifier)
		inputs := make(ir.List, len(u.Inputs))
		for i, in := range u.Inputs {
			inputs[i] = ir.String(in)
		}
		m["inputs"] = inputs
	}
	return m
}

// CanonicalTrace serializes the snapshot as indented canonical JSON: key
// order and value forms come from the canonical serializer, indentation
// keeps the golden files reviewable and writable by hand.
func (s *TraceSnapshot) CanonicalTrace() ([]byte, error) {
	compact, err := ir.MarshalCanonical(s.canonicalValue())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against the
// golden file testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if scenario execution fails; a trace mismatch fails
// the test through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file.
// Useful when the caller already ran the scenario and also wants to check
// assertions or inspect the result.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{Scenario: scenarioName, Trace: result.Trace}
	traceJSON, err := snapshot.CanonicalTrace()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
