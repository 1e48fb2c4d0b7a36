package graph

import (
	"errors"
	"fmt"
)

// NotFoundError reports a mutation addressed to a node the network does
// not contain.
type NotFoundError struct {
	ID NodeID
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %q not found", string(e.ID))
}

// IsNotFound reports whether err is a NotFoundError, unwrapping as needed.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// DuplicateNodeError reports an insert with an ID already in use.
type DuplicateNodeError struct {
	ID NodeID
}

// Error implements the error interface.
func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("node %q already exists", string(e.ID))
}

// PortError reports an input index outside a node's arity.
type PortError struct {
	ID    NodeID
	Port  int
	Arity int
}

// Error implements the error interface.
func (e *PortError) Error() string {
	return fmt.Sprintf("node %q has no port %d (arity %d)", string(e.ID), e.Port, e.Arity)
}
