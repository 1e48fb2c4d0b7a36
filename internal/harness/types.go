package harness

import (
	"github.com/trellisdev/trellis/internal/ir"
)

// UpdateEntry is one normalized diff entry from a compile step. Identities
// are symbolic labels assigned in first-seen order, so the same scenario
// produces the same entries on every run regardless of the hash values.
type UpdateEntry struct {
	// Kind is "new", "dedup" or "remove".
	Kind string `json:"kind"`

	// SNI is the symbolic identity label ("sni#1", "sni#2", ...).
	SNI string `json:"sni"`

	// Value is the literal payload of a value construction.
	Value ir.Value `json:"value,omitempty"`

	// Identifier and Inputs describe an operation construction; Inputs
	// hold the labels of the resolved input identities in port order.
	Identifier string   `json:"identifier,omitempty"`
	Inputs     []string `json:"inputs,omitempty"`
}

// UpdateCounts summarizes one compile's diff.
type UpdateCounts struct {
	Added        int `json:"added"`
	Deduplicated int `json:"deduplicated"`
	Removed      int `json:"removed"`
}

// TraceEvent records one executed scenario step.
type TraceEvent struct {
	// Step is the op that produced this event.
	Step string `json:"step"`

	// Node names the step's target node.
	Node string `json:"node,omitempty"`

	// Type is the catalog identifier of an added node.
	Type string `json:"type,omitempty"`

	// Port, Value and From describe a set_input step; Previous is the
	// displaced input, tagged as {"value": ...}, {"from": ...} or "unset".
	Port     int      `json:"port,omitempty"`
	Value    ir.Value `json:"value,omitempty"`
	From     string   `json:"from,omitempty"`
	Previous ir.Value `json:"previous,omitempty"`

	// Updates, Counts, Root and Diagnostics describe a compile step.
	Updates     []UpdateEntry `json:"updates,omitempty"`
	Counts      *UpdateCounts `json:"counts,omitempty"`
	Root        string        `json:"root,omitempty"`
	Diagnostics []string      `json:"diagnostics,omitempty"`

	// Result is the value an evaluate step produced.
	Result ir.Value `json:"result,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists the executed steps in order. It feeds the trace-shaped
	// assertions and the golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors holds assertion failure messages. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a trace event.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
