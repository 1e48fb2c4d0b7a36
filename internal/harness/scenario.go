package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trellisdev/trellis/internal/compiler"
	"github.com/trellisdev/trellis/internal/document"
	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/ir"
	"github.com/trellisdev/trellis/internal/registry"
)

// Scenario defines a conformance test: an initial document, a sequence of
// editing steps, and assertions over the resulting trace and runtime.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Document is the initial node network. It is applied before the
	// steps run and does not appear in the trace.
	Document document.File `yaml:"document"`

	// Steps is the editing and query sequence. Every step is traced.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final runtime state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step ops.
const (
	OpAddNode    = "add_node"
	OpRemoveNode = "remove_node"
	OpSetInput   = "set_input"
	OpCompile    = "compile"
	OpEvaluate   = "evaluate"
	OpUndo       = "undo"
	OpRedo       = "redo"
)

// Step is one editing or query operation. Op selects the operation; the
// remaining fields apply per op.
type Step struct {
	// Op is one of the Op constants.
	Op string `yaml:"op"`

	// Node names the target (add_node, remove_node, set_input).
	Node string `yaml:"node,omitempty"`

	// Type is the catalog identifier for add_node.
	Type string `yaml:"type,omitempty"`

	// Pos is editor placement for add_node.
	Pos graph.Position `yaml:"pos,omitempty"`

	// Port, Value, From and Output assign an input for set_input.
	// Exactly one of Value and From must be set.
	Port   *int       `yaml:"port,omitempty"`
	Value  *yaml.Node `yaml:"value,omitempty"`
	From   string     `yaml:"from,omitempty"`
	Output int        `yaml:"output,omitempty"`

	// Context supplies the evaluation context for evaluate. Absent means
	// the empty context.
	Context *ContextSpec `yaml:"context,omitempty"`
}

// ContextSpec builds the evaluation context for an evaluate step.
type ContextSpec struct {
	AnimationTime *float64  `yaml:"animation_time,omitempty"`
	RealTime      *float64  `yaml:"real_time,omitempty"`
	Index         *uint64   `yaml:"index,omitempty"`
	Position      []float64 `yaml:"position,omitempty"`  // [x, y]
	Footprint     []uint32  `yaml:"footprint,omitempty"` // [width, height]
}

// Build assembles the context. A nil spec is the empty context.
func (c *ContextSpec) Build() ir.Context {
	ectx := ir.Context{}
	if c == nil {
		return ectx
	}
	if c.AnimationTime != nil {
		ectx = ectx.WithAnimationTime(*c.AnimationTime)
	}
	if c.RealTime != nil {
		ectx = ectx.WithRealTime(*c.RealTime)
	}
	if c.Index != nil {
		ectx = ectx.WithIndex(*c.Index)
	}
	if len(c.Position) == 2 {
		ectx = ectx.WithPosition(ir.Vec2{X: c.Position[0], Y: c.Position[1]})
	}
	if len(c.Footprint) == 2 {
		ectx = ectx.WithFootprint(ir.IdentityFootprint(c.Footprint[0], c.Footprint[1]))
	}
	return ectx
}

// Assertion types.
const (
	AssertUpdateKinds = "update_kinds"
	AssertUpdateCount = "update_count"
	AssertEvalResult  = "eval_result"
	AssertLiveCount   = "live_count"
	AssertDedupPair   = "dedup_pair"
)

// Assertion validates the trace or the final runtime state.
type Assertion struct {
	// Type is one of the Assert constants:
	//   - update_kinds: a compile's diff kinds, in order
	//   - update_count: a compile's added/deduplicated/removed counts
	//   - eval_result: an evaluate step's value
	//   - live_count: how many protonodes the runtime holds at the end
	//   - dedup_pair: two document nodes resolved to the same identity
	Type string `yaml:"type"`

	// Step selects which compile or evaluate event the assertion reads,
	// 1-based among events of that kind. Zero means the most recent one.
	Step int `yaml:"step,omitempty"`

	// Kinds is the expected diff kind sequence (update_kinds).
	Kinds []string `yaml:"kinds,omitempty"`

	// Added, Deduplicated and Removed are the expected counts
	// (update_count). Absent fields are not checked.
	Added        *int `yaml:"added,omitempty"`
	Deduplicated *int `yaml:"deduplicated,omitempty"`
	Removed      *int `yaml:"removed,omitempty"`

	// Value is the expected result (eval_result).
	Value *yaml.Node `yaml:"value,omitempty"`

	// Count is the expected live protonode count (live_count).
	Count *int `yaml:"count,omitempty"`

	// Nodes are the two document nodes expected to share an identity
	// (dedup_pair).
	Nodes []string `yaml:"nodes,omitempty"`
}

// Scenario validation codes. Findings inside the document section keep
// the document package's E1xx codes.
const (
	ErrCodeScenarioName = "E201" // missing name
	ErrCodeScenarioDesc = "E202" // missing description
	ErrCodeNoSteps      = "E203" // empty steps list
	ErrCodeNoAssertions = "E204" // empty assertions list
	ErrCodeStepOp       = "E210" // unknown step op
	ErrCodeStepField    = "E211" // step field missing or invalid
	ErrCodeStepValue    = "E212" // step literal is not an IR value
	ErrCodeAssertType   = "E220" // unknown assertion type
	ErrCodeAssertField  = "E221" // assertion field missing or invalid
	ErrCodeAssertValue  = "E222" // assertion literal is not an IR value
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as parse errors, and every validation finding
// is reported in one error.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if errs := scenario.Validate(registry.Builtin()); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid scenario: %s", strings.Join(msgs, "; "))
	}

	return &scenario, nil
}

// Validate checks the scenario against the catalog and returns every
// finding instead of stopping at the first one.
func (s *Scenario) Validate(reg *registry.Registry) []compiler.ValidationError {
	var errs []compiler.ValidationError
	add := func(field, code, msg string, line int) {
		errs = append(errs, compiler.ValidationError{
			Field:   field,
			Message: msg,
			Code:    code,
			Line:    line,
		})
	}

	if s.Name == "" {
		add("name", ErrCodeScenarioName, "name is required", 0)
	}
	if s.Description == "" {
		add("description", ErrCodeScenarioDesc, "description is required", 0)
	}

	for _, e := range s.Document.Validate(reg) {
		e.Field = "document." + e.Field
		errs = append(errs, e)
	}

	if len(s.Steps) == 0 {
		add("steps", ErrCodeNoSteps, "steps list is required and must be non-empty", 0)
	}
	for i, step := range s.Steps {
		validateStep(i, &step, reg, add)
	}

	if len(s.Assertions) == 0 {
		add("assertions", ErrCodeNoAssertions, "assertions list is required and must be non-empty", 0)
	}
	for i, a := range s.Assertions {
		validateAssertion(i, &a, add)
	}

	return errs
}

func validateStep(i int, step *Step, reg *registry.Registry, add func(field, code, msg string, line int)) {
	field := fmt.Sprintf("steps[%d]", i)
	switch step.Op {
	case OpAddNode:
		if step.Node == "" {
			add(field+".node", ErrCodeStepField, "add_node needs a node id", 0)
		}
		if step.Type == "" {
			add(field+".type", ErrCodeStepField, "add_node needs a type", 0)
		} else if _, ok := reg.Lookup(step.Type); !ok {
			add(field+".type", ErrCodeStepField, fmt.Sprintf("unknown node type %q", step.Type), 0)
		}
	case OpRemoveNode:
		if step.Node == "" {
			add(field+".node", ErrCodeStepField, "remove_node needs a node id", 0)
		}
	case OpSetInput:
		if step.Node == "" {
			add(field+".node", ErrCodeStepField, "set_input needs a node id", 0)
		}
		if step.Port == nil {
			add(field+".port", ErrCodeStepField, "set_input needs a port", 0)
		} else if *step.Port < 0 {
			add(field+".port", ErrCodeStepField, "port must be non-negative", 0)
		}
		hasValue := step.Value != nil
		hasFrom := step.From != ""
		switch {
		case hasValue && hasFrom:
			add(field, ErrCodeStepField, "set_input has both value and from", 0)
		case !hasValue && !hasFrom:
			add(field, ErrCodeStepField, "set_input needs exactly one of value or from", 0)
		case hasValue:
			if _, err := decodeStepValue(step.Value); err != nil {
				add(field+".value", ErrCodeStepValue, err.Error(), step.Value.Line)
			}
		}
	case OpEvaluate:
		if c := step.Context; c != nil {
			if c.Position != nil && len(c.Position) != 2 {
				add(field+".context.position", ErrCodeStepField, "position must be [x, y]", 0)
			}
			if c.Footprint != nil && len(c.Footprint) != 2 {
				add(field+".context.footprint", ErrCodeStepField, "footprint must be [width, height]", 0)
			}
		}
	case OpCompile, OpUndo, OpRedo:
		// No fields.
	case "":
		add(field+".op", ErrCodeStepOp, "op is required", 0)
	default:
		add(field+".op", ErrCodeStepOp, fmt.Sprintf("unknown step op %q", step.Op), 0)
	}
}

func validateAssertion(i int, a *Assertion, add func(field, code, msg string, line int)) {
	field := fmt.Sprintf("assertions[%d]", i)
	if a.Step < 0 {
		add(field+".step", ErrCodeAssertField, "step must be non-negative", 0)
	}
	switch a.Type {
	case AssertUpdateKinds:
		if len(a.Kinds) == 0 {
			add(field+".kinds", ErrCodeAssertField, "update_kinds needs a kinds list", 0)
		}
		for j, k := range a.Kinds {
			switch k {
			case "new", "dedup", "remove":
			default:
				add(fmt.Sprintf("%s.kinds[%d]", field, j), ErrCodeAssertField,
					fmt.Sprintf("unknown update kind %q", k), 0)
			}
		}
	case AssertUpdateCount:
		if a.Added == nil && a.Deduplicated == nil && a.Removed == nil {
			add(field, ErrCodeAssertField, "update_count needs at least one of added, deduplicated, removed", 0)
		}
		counts := []struct {
			name string
			v    *int
		}{{"added", a.Added}, {"deduplicated", a.Deduplicated}, {"removed", a.Removed}}
		for _, c := range counts {
			if c.v != nil && *c.v < 0 {
				add(field+"."+c.name, ErrCodeAssertField, "count must be non-negative", 0)
			}
		}
	case AssertEvalResult:
		if a.Value == nil {
			add(field+".value", ErrCodeAssertField, "eval_result needs a value", 0)
		} else if _, err := decodeStepValue(a.Value); err != nil {
			add(field+".value", ErrCodeAssertValue, err.Error(), a.Value.Line)
		}
	case AssertLiveCount:
		if a.Count == nil {
			add(field+".count", ErrCodeAssertField, "live_count needs a count", 0)
		} else if *a.Count < 0 {
			add(field+".count", ErrCodeAssertField, "count must be non-negative", 0)
		}
	case AssertDedupPair:
		if len(a.Nodes) != 2 {
			add(field+".nodes", ErrCodeAssertField, "dedup_pair needs exactly two node ids", 0)
		}
	case "":
		add(field+".type", ErrCodeAssertType, "type is required", 0)
	default:
		add(field+".type", ErrCodeAssertType, fmt.Sprintf("unknown assertion type %q", a.Type), 0)
	}
}

// decodeStepValue converts a raw YAML literal to an IR value.
func decodeStepValue(node *yaml.Node) (ir.Value, error) {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	return ir.FromGo(raw)
}
