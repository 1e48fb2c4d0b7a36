package runtime

import (
	"errors"
	"fmt"

	"github.com/trellisdev/trellis/internal/ir"
)

// RuntimeErrorCode categorizes execution failures.
type RuntimeErrorCode string

const (
	// ErrCodeMissingUpstream indicates an update referenced an identity
	// that is not live. Updates are topologically sorted, so this can only
	// mean the tree and the compiler have diverged; the caller recovers by
	// rebuilding from scratch.
	ErrCodeMissingUpstream RuntimeErrorCode = "MISSING_UPSTREAM"

	// ErrCodeMissingNode indicates an evaluation was requested for an
	// identity that is not live.
	ErrCodeMissingNode RuntimeErrorCode = "MISSING_NODE"

	// ErrCodeBudgetExceeded indicates one evaluation visited more nodes
	// than the configured budget allows.
	ErrCodeBudgetExceeded RuntimeErrorCode = "BUDGET_EXCEEDED"

	// ErrCodeBadInput indicates a structurally invalid reference
	// discovered during evaluation, such as a nonzero output index.
	ErrCodeBadInput RuntimeErrorCode = "BAD_INPUT"
)

// RuntimeError is an execution failure tied to a specific identity.
type RuntimeError struct {
	Code    RuntimeErrorCode
	SNI     ir.SNI
	Message string
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.SNI.IsZero() {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (sni=%s)", e.Code, e.Message, e.SNI)
}

// IsMissingUpstreamError reports whether err is a missing-upstream
// runtime error. Uses errors.As to handle wrapped errors.
func IsMissingUpstreamError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMissingUpstream
	}
	return false
}

// IsMissingNodeError reports whether err is a missing-node runtime error.
func IsMissingNodeError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMissingNode
	}
	return false
}

// IsBudgetExceededError reports whether err is a budget-exceeded runtime
// error.
func IsBudgetExceededError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeBudgetExceeded
	}
	return false
}

// IsBadInputError reports whether err is a bad-input runtime error.
func IsBadInputError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeBadInput
	}
	return false
}

// NewMissingUpstreamError creates a RuntimeError for an update entry that
// references an identity with no live node.
func NewMissingUpstreamError(sni ir.SNI) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeMissingUpstream,
		SNI:     sni,
		Message: "update references an identity that is not live",
	}
}

// NewMissingNodeError creates a RuntimeError for an evaluation of an
// identity with no live node.
func NewMissingNodeError(sni ir.SNI) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeMissingNode,
		SNI:     sni,
		Message: "no live node with this identity",
	}
}

// NewBudgetExceededError creates a RuntimeError for an evaluation that
// exceeded its node-visit budget.
func NewBudgetExceededError(sni ir.SNI, visits, limit int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeBudgetExceeded,
		SNI:     sni,
		Message: fmt.Sprintf("evaluation visited %d nodes, budget is %d", visits, limit),
	}
}

// NewBadInputError creates a RuntimeError for a structurally invalid
// input reference.
func NewBadInputError(sni ir.SNI, msg string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeBadInput,
		SNI:     sni,
		Message: msg,
	}
}
