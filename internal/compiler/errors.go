package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/ir"
)

// CompileError is a fatal compilation failure. When Compile returns one,
// the network, the protonode table and the revision counter are exactly as
// they were before the call.
type CompileError struct {
	// Code identifies the error category.
	Code CompileErrorCode

	// Message is a human-readable description.
	Message string

	// Path is the offending dependency cycle, consumer first, with the
	// first node repeated at the end. Populated for cycle errors.
	Path []graph.NodeID

	// Node is the node whose extraction cannot be satisfied. Populated
	// for unsatisfied-extract errors.
	Node graph.NodeID

	// Missing holds the context features demanded at the root that no
	// ambient evaluation can supply.
	Missing ir.FeatureSet
}

// CompileErrorCode categorizes fatal compile errors.
type CompileErrorCode string

const (
	// ErrCodeCycle indicates the abstract network contains a dependency
	// cycle.
	ErrCodeCycle CompileErrorCode = "CYCLE"

	// ErrCodeUnsatisfiedExtract indicates a node extracts a context
	// feature that neither the ambient evaluation context nor any
	// downstream injector can supply.
	ErrCodeUnsatisfiedExtract CompileErrorCode = "UNSATISFIED_EXTRACT"
)

// Error implements the error interface.
func (e *CompileError) Error() string {
	switch {
	case len(e.Path) > 0:
		parts := make([]string, len(e.Path))
		for i, id := range e.Path {
			parts[i] = string(id)
		}
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, strings.Join(parts, " -> "))
	case e.Node != "":
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.Node)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsCycleError reports whether err is a cycle compile error.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeCycle
	}
	return false
}

// IsUnsatisfiedExtractError reports whether err is an unsatisfied-extract
// compile error.
func IsUnsatisfiedExtractError(err error) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeUnsatisfiedExtract
	}
	return false
}

// NewCycleError creates a CompileError for a dependency cycle.
func NewCycleError(path []graph.NodeID) *CompileError {
	return &CompileError{
		Code:    ErrCodeCycle,
		Message: "node dependencies form a cycle",
		Path:    path,
	}
}

// NewUnsatisfiedExtractError creates a CompileError for an extraction the
// evaluation context can never satisfy.
func NewUnsatisfiedExtractError(node graph.NodeID, missing ir.FeatureSet) *CompileError {
	return &CompileError{
		Code:    ErrCodeUnsatisfiedExtract,
		Message: fmt.Sprintf("extracts %s with no injector between it and the root", missing),
		Node:    node,
		Missing: missing,
	}
}

// DiagnosticCode categorizes recoverable compile diagnostics.
type DiagnosticCode string

// DiagUnresolvedSNI marks a node that received no identity this round,
// usually because an input is unset or points at a missing node. The
// compile still succeeds; the node resolves on a later compile once its
// inputs exist.
const DiagUnresolvedSNI DiagnosticCode = "UNRESOLVED_SNI"

// Diagnostic is a recoverable per-node note attached to a successful
// compile.
type Diagnostic struct {
	Code    DiagnosticCode `json:"code"`
	Node    graph.NodeID   `json:"node"`
	Port    int            `json:"port"` // -1 when the node itself is at fault
	Message string         `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Port >= 0 {
		return fmt.Sprintf("%s: node %s port %d: %s", d.Code, d.Node, d.Port, d.Message)
	}
	return fmt.Sprintf("%s: node %s: %s", d.Code, d.Node, d.Message)
}

// ValidationError represents a schema validation error in a document,
// scenario or catalog file. Validators collect every finding instead of
// stopping at the first one.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s: %s (line %d)", e.Code, e.Field, e.Message, e.Line)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}
