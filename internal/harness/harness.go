package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/trellisdev/trellis/internal/compiler"
	"github.com/trellisdev/trellis/internal/engine"
	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/ir"
)

// closeTimeout bounds the graceful drain after a scenario finishes.
const closeTimeout = 5 * time.Second

// sniLabeler assigns symbolic names to identities in first-seen order.
// The hash values vary with implementation details the scenarios don't
// care about; the labels make traces stable and human-readable.
type sniLabeler struct {
	labels map[ir.SNI]string
}

func newSNILabeler() *sniLabeler {
	return &sniLabeler{labels: make(map[ir.SNI]string)}
}

func (l *sniLabeler) label(s ir.SNI) string {
	if s.IsZero() {
		return "unresolved"
	}
	if name, ok := l.labels[s]; ok {
		return name
	}
	name := fmt.Sprintf("sni#%d", len(l.labels)+1)
	l.labels[s] = name
	return name
}

// Harness executes one scenario against a live session.
type Harness struct {
	session *engine.Session
	labels  *sniLabeler
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh session with its own compiler and
// runtime, so scenarios are isolated from each other and identity labels,
// revisions and live counts start from zero every time.
//
// Execution flow:
//  1. Start a session and its request loop
//  2. Apply the initial document (untraced setup)
//  3. Execute the steps, tracing each one
//  4. Evaluate assertions against the trace and the live runtime
//  5. Drain and stop the session
//
// A step that the engine rejects aborts the run with an error; assertion
// failures are collected on the result instead.
func Run(scenario *Scenario) (*Result, error) {
	sess := engine.New(scenario.Name,
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithIDGenerator(engine.NewSequenceGenerator("node")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	defer func() {
		sess.Close()
		select {
		case <-done:
		case <-time.After(closeTimeout):
			cancel()
			<-done
		}
	}()

	h := &Harness{
		session: sess,
		labels:  newSNILabeler(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := NewResult()
	if err := h.applyDocument(scenario); err != nil {
		return nil, fmt.Errorf("failed to apply document: %w", err)
	}
	if err := h.executeSteps(scenario.Steps, result); err != nil {
		return nil, err
	}

	// Assertions run before the session stops: dedup_pair inspects nodes
	// through the request queue and live_count reads the runtime.
	actx := &AssertionContext{Session: sess, Labels: h.labels}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// applyDocument builds the initial network. Document application is setup,
// not part of the story a scenario tells, so it stays out of the trace.
func (h *Harness) applyDocument(scenario *Scenario) error {
	return scenario.Document.Apply(h.session)
}

// executeSteps runs the steps in order, appending one trace event each.
func (h *Harness) executeSteps(steps []Step, result *Result) error {
	for i, step := range steps {
		if err := h.executeStep(&step, result); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		h.logger.Info("step completed", "index", i, "op", step.Op)
	}
	return nil
}

func (h *Harness) executeStep(step *Step, result *Result) error {
	switch step.Op {
	case OpAddNode:
		if err := h.session.AddNodeWithID(graph.NodeID(step.Node), step.Type, step.Pos); err != nil {
			return err
		}
		result.AddEvent(TraceEvent{Step: OpAddNode, Node: step.Node, Type: step.Type})

	case OpRemoveNode:
		if err := h.session.RemoveNode(graph.NodeID(step.Node)); err != nil {
			return err
		}
		result.AddEvent(TraceEvent{Step: OpRemoveNode, Node: step.Node})

	case OpSetInput:
		input, err := stepInput(step)
		if err != nil {
			return err
		}
		prev, err := h.session.SetInput(graph.NodeID(step.Node), *step.Port, input)
		if err != nil {
			return err
		}
		ev := TraceEvent{
			Step:     OpSetInput,
			Node:     step.Node,
			Port:     *step.Port,
			From:     step.From,
			Previous: inputValue(prev),
		}
		if step.Value != nil {
			if ev.Value, err = decodeStepValue(step.Value); err != nil {
				return err
			}
		}
		result.AddEvent(ev)

	case OpCompile:
		res, err := h.session.Compile()
		if err != nil {
			return err
		}
		result.AddEvent(h.compileEvent(res))

	case OpEvaluate:
		out, err := h.session.Evaluate(step.Context.Build())
		if err != nil {
			return err
		}
		result.AddEvent(TraceEvent{Step: OpEvaluate, Result: out})

	case OpUndo:
		if err := h.session.Undo(); err != nil {
			return err
		}
		result.AddEvent(TraceEvent{Step: OpUndo})

	case OpRedo:
		if err := h.session.Redo(); err != nil {
			return err
		}
		result.AddEvent(TraceEvent{Step: OpRedo})

	default:
		return fmt.Errorf("unknown step op %q", step.Op)
	}
	return nil
}

// compileEvent normalizes a compile result into a trace event: every
// identity becomes a label, constructions carry their payloads, and the
// counts summarize the diff.
func (h *Harness) compileEvent(res *compiler.Result) TraceEvent {
	entries := make([]UpdateEntry, 0, len(res.Update.Nodes))
	for _, n := range res.Update.Nodes {
		switch u := n.(type) {
		case ir.NewProtonode:
			e := UpdateEntry{Kind: "new", SNI: h.labels.label(u.SNI)}
			switch args := u.Args.(type) {
			case ir.ValueArgs:
				e.Value = args.Value
			case ir.OpArgs:
				e.Identifier = args.Identifier
				e.Inputs = make([]string, len(args.Inputs))
				for i, in := range args.Inputs {
					e.Inputs[i] = h.labels.label(in.SNI)
				}
			}
			entries = append(entries, e)
		case ir.Deduplicated:
			entries = append(entries, UpdateEntry{Kind: "dedup", SNI: h.labels.label(u.SNI)})
		case ir.Remove:
			entries = append(entries, UpdateEntry{Kind: "remove", SNI: h.labels.label(u.SNI)})
		}
	}

	added, deduplicated, removed := res.Update.Counts()
	ev := TraceEvent{
		Step:    OpCompile,
		Updates: entries,
		Counts:  &UpdateCounts{Added: added, Deduplicated: deduplicated, Removed: removed},
		Root:    h.labels.label(res.Update.Root),
	}
	for _, d := range res.Diagnostics {
		ev.Diagnostics = append(ev.Diagnostics, d.String())
	}
	return ev
}

// stepInput converts a set_input step to a graph input.
func stepInput(step *Step) (graph.Input, error) {
	switch {
	case step.Value != nil && step.From != "":
		return nil, fmt.Errorf("set_input has both value and from")
	case step.Value != nil:
		v, err := decodeStepValue(step.Value)
		if err != nil {
			return nil, err
		}
		return graph.ValueInput{Value: v}, nil
	case step.From != "":
		return graph.Connection{Node: graph.NodeID(step.From), Output: step.Output}, nil
	default:
		return nil, fmt.Errorf("set_input needs exactly one of value or from")
	}
}

// inputValue renders a graph input as a tagged trace value.
func inputValue(in graph.Input) ir.Value {
	switch v := in.(type) {
	case graph.ValueInput:
		return ir.Map{"value": v.Value}
	case graph.Connection:
		return ir.Map{"from": ir.String(v.Node)}
	default:
		return ir.String("unset")
	}
}
