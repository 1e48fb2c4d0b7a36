package engine

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned for requests submitted after the session
// stopped, and for requests still queued when it shut down.
var ErrSessionClosed = errors.New("session closed")

// ErrNotCompiled is returned by Evaluate before the first successful
// compile, or while the export is deferred and owns no identity yet.
var ErrNotCompiled = errors.New("document has no compiled export")

// UnknownTypeError reports an AddNode whose type the catalog does not
// list. The document keeps unknown types out at the boundary; anything
// already in the network is allowed to stay unresolved instead.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown node type %q", e.Type)
}

// IsUnknownType returns true if the error is an UnknownTypeError.
// Uses errors.As to handle wrapped errors.
func IsUnknownType(err error) bool {
	var ute *UnknownTypeError
	return errors.As(err, &ute)
}
