package harness

import (
	"fmt"
	"strings"

	"github.com/trellisdev/trellis/internal/engine"
	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/ir"
)

// AssertionError is returned when an assertion fails. It includes the
// trace so the failure output shows what the scenario actually did.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, traceLine(event))
	}

	return buf.String()
}

// traceLine renders one event compactly for failure output.
func traceLine(ev TraceEvent) string {
	switch ev.Step {
	case OpCompile:
		c := ev.Counts
		line := fmt.Sprintf("compile root=%s added=%d deduplicated=%d removed=%d",
			ev.Root, c.Added, c.Deduplicated, c.Removed)
		if len(ev.Diagnostics) > 0 {
			line += fmt.Sprintf(" diagnostics=%d", len(ev.Diagnostics))
		}
		return line
	case OpEvaluate:
		return "evaluate => " + displayValue(ev.Result)
	case OpSetInput:
		if ev.From != "" {
			return fmt.Sprintf("set_input %s:%d <- %s", ev.Node, ev.Port, ev.From)
		}
		return fmt.Sprintf("set_input %s:%d = %s", ev.Node, ev.Port, displayValue(ev.Value))
	case OpAddNode:
		return fmt.Sprintf("add_node %s (%s)", ev.Node, ev.Type)
	case OpRemoveNode:
		return "remove_node " + ev.Node
	default:
		return ev.Step
	}
}

func displayValue(v ir.Value) string {
	if v == nil {
		return "<none>"
	}
	raw, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// nthEvent returns the n-th event of the given step kind, 1-based, or the
// most recent one when n is zero.
func nthEvent(trace []TraceEvent, step string, n int) (TraceEvent, bool) {
	count := 0
	var last TraceEvent
	found := false
	for _, ev := range trace {
		if ev.Step != step {
			continue
		}
		count++
		last, found = ev, true
		if n > 0 && count == n {
			return ev, true
		}
	}
	if n == 0 && found {
		return last, true
	}
	return TraceEvent{}, false
}

// describeTarget names the event an assertion reads, for error messages.
func describeTarget(step string, n int) string {
	if n == 0 {
		return "the last " + step
	}
	return fmt.Sprintf("%s #%d", step, n)
}

// assertUpdateKinds checks a compile's diff kind sequence.
func assertUpdateKinds(trace []TraceEvent, assertion Assertion) error {
	ev, ok := nthEvent(trace, OpCompile, assertion.Step)
	if !ok {
		return &AssertionError{
			Type:     AssertUpdateKinds,
			Expected: describeTarget("compile", assertion.Step),
			Actual:   "no such compile in trace",
			Trace:    trace,
		}
	}

	got := make([]string, len(ev.Updates))
	for i, u := range ev.Updates {
		got[i] = u.Kind
	}
	if len(got) != len(assertion.Kinds) {
		return kindsMismatch(assertion, got, trace)
	}
	for i := range got {
		if got[i] != assertion.Kinds[i] {
			return kindsMismatch(assertion, got, trace)
		}
	}
	return nil
}

func kindsMismatch(assertion Assertion, got []string, trace []TraceEvent) error {
	return &AssertionError{
		Type:     AssertUpdateKinds,
		Expected: fmt.Sprintf("%s emits [%s]", describeTarget("compile", assertion.Step), strings.Join(assertion.Kinds, " ")),
		Actual:   fmt.Sprintf("[%s]", strings.Join(got, " ")),
		Trace:    trace,
	}
}

// assertUpdateCount checks a compile's diff counts. Only the counts the
// assertion names are compared.
func assertUpdateCount(trace []TraceEvent, assertion Assertion) error {
	ev, ok := nthEvent(trace, OpCompile, assertion.Step)
	if !ok {
		return &AssertionError{
			Type:     AssertUpdateCount,
			Expected: describeTarget("compile", assertion.Step),
			Actual:   "no such compile in trace",
			Trace:    trace,
		}
	}

	var want []string
	mismatch := false
	check := func(name string, expected *int, actual int) {
		if expected == nil {
			return
		}
		want = append(want, fmt.Sprintf("%s=%d", name, *expected))
		if *expected != actual {
			mismatch = true
		}
	}
	check("added", assertion.Added, ev.Counts.Added)
	check("deduplicated", assertion.Deduplicated, ev.Counts.Deduplicated)
	check("removed", assertion.Removed, ev.Counts.Removed)

	if mismatch {
		return &AssertionError{
			Type:     AssertUpdateCount,
			Expected: fmt.Sprintf("%s has %s", describeTarget("compile", assertion.Step), strings.Join(want, " ")),
			Actual: fmt.Sprintf("added=%d deduplicated=%d removed=%d",
				ev.Counts.Added, ev.Counts.Deduplicated, ev.Counts.Removed),
			Trace: trace,
		}
	}
	return nil
}

// assertEvalResult checks the value an evaluate step produced.
func assertEvalResult(trace []TraceEvent, assertion Assertion) error {
	ev, ok := nthEvent(trace, OpEvaluate, assertion.Step)
	if !ok {
		return &AssertionError{
			Type:     AssertEvalResult,
			Expected: describeTarget("evaluate", assertion.Step),
			Actual:   "no such evaluate in trace",
			Trace:    trace,
		}
	}

	if assertion.Value == nil {
		return fmt.Errorf("eval_result assertion requires a value")
	}
	expected, err := decodeStepValue(assertion.Value)
	if err != nil {
		return fmt.Errorf("eval_result: bad expected value: %w", err)
	}
	if !ir.Equal(expected, ev.Result) {
		return &AssertionError{
			Type:     AssertEvalResult,
			Expected: fmt.Sprintf("%s yields %s", describeTarget("evaluate", assertion.Step), displayValue(expected)),
			Actual:   displayValue(ev.Result),
			Trace:    trace,
		}
	}
	return nil
}

// assertLiveCount checks how many protonodes the runtime holds after the
// scenario's steps.
func assertLiveCount(actx *AssertionContext, assertion Assertion, trace []TraceEvent) error {
	if assertion.Count == nil {
		return fmt.Errorf("live_count assertion requires a count")
	}
	got := actx.Session.Host().Runtime().Len()
	if got != *assertion.Count {
		return &AssertionError{
			Type:     AssertLiveCount,
			Expected: fmt.Sprintf("%d live protonodes", *assertion.Count),
			Actual:   fmt.Sprintf("%d live protonodes", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertDedupPair checks that two document nodes resolved to the same
// identity, the observable fact behind structural deduplication.
func assertDedupPair(actx *AssertionContext, assertion Assertion, trace []TraceEvent) error {
	if len(assertion.Nodes) != 2 {
		return fmt.Errorf("dedup_pair assertion requires exactly two node ids")
	}
	reports := make([]engine.Report, 2)
	for i, id := range assertion.Nodes {
		rep, err := actx.Session.Inspect(graph.NodeID(id))
		if err != nil {
			return &AssertionError{
				Type:     AssertDedupPair,
				Expected: fmt.Sprintf("node %q present and resolved", id),
				Actual:   err.Error(),
				Trace:    trace,
			}
		}
		if !rep.Resolved {
			return &AssertionError{
				Type:     AssertDedupPair,
				Expected: fmt.Sprintf("node %q resolved", id),
				Actual:   "node is deferred",
				Trace:    trace,
			}
		}
		reports[i] = rep
	}

	if reports[0].SNI != reports[1].SNI {
		return &AssertionError{
			Type: AssertDedupPair,
			Expected: fmt.Sprintf("%s and %s share one identity",
				assertion.Nodes[0], assertion.Nodes[1]),
			Actual: fmt.Sprintf("%s=%s %s=%s",
				assertion.Nodes[0], actx.Labels.label(reports[0].SNI),
				assertion.Nodes[1], actx.Labels.label(reports[1].SNI)),
			Trace: trace,
		}
	}
	return nil
}

// AssertionContext provides the live session for assertions that read the
// runtime rather than the trace.
type AssertionContext struct {
	Session *engine.Session
	Labels  *sniLabeler
}

// EvaluateAssertions evaluates all assertions against the result and
// returns a message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertUpdateKinds:
			err = assertUpdateKinds(result.Trace, assertion)
		case AssertUpdateCount:
			err = assertUpdateCount(result.Trace, assertion)
		case AssertEvalResult:
			err = assertEvalResult(result.Trace, assertion)
		case AssertLiveCount:
			if actx == nil || actx.Session == nil {
				err = fmt.Errorf("assertion[%d]: live_count requires a session", i)
			} else {
				err = assertLiveCount(actx, assertion, result.Trace)
			}
		case AssertDedupPair:
			if actx == nil || actx.Session == nil {
				err = fmt.Errorf("assertion[%d]: dedup_pair requires a session", i)
			} else {
				err = assertDedupPair(actx, assertion, result.Trace)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
