// Package history implements per-document undo and redo as replay of
// reversible mutation records. The abstract network is the single source
// of truth: no snapshots are kept, and a reverted document recompiles
// through the ordinary incremental path, reproducing the identities it
// had before the edit.
package history

import (
	"errors"
	"fmt"

	"github.com/trellisdev/trellis/internal/graph"
)

var (
	// ErrNothingToUndo is returned by Undo on an empty undo stack.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo is returned by Redo on an empty redo stack.
	ErrNothingToRedo = errors.New("nothing to redo")
)

// History holds one document's undo and redo stacks. Not safe for
// concurrent use; the session serializes all access.
type History struct {
	limit int
	undo  []Record
	redo  []Record
}

// Option configures a History.
type Option func(*History)

// WithLimit caps the undo stack; the oldest record is dropped when a
// push exceeds it. Zero means unbounded.
func WithLimit(n int) Option {
	return func(h *History) {
		if n >= 0 {
			h.limit = n
		}
	}
}

// New creates an empty history.
func New(opts ...Option) *History {
	h := &History{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Push records a completed mutation and clears the redo stack. Any
// mutation after an undo forks the timeline; the undone future is
// unreachable from the network state, so replaying it would corrupt it.
func (h *History) Push(rec Record) {
	h.undo = append(h.undo, rec)
	h.redo = nil
	if h.limit > 0 && len(h.undo) > h.limit {
		h.undo = append(h.undo[:0], h.undo[len(h.undo)-h.limit:]...)
	}
}

// Undo applies the inverse of the most recent record to the network and
// moves it to the redo stack. The caller recompiles afterwards. On
// failure the record stays put.
func (h *History) Undo(net *graph.Network) error {
	if len(h.undo) == 0 {
		return ErrNothingToUndo
	}
	rec := h.undo[len(h.undo)-1]
	inverse, err := rec.invert(net)
	if err != nil {
		return fmt.Errorf("undo: %w", err)
	}
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, inverse)
	return nil
}

// Redo reapplies the most recently undone record and moves it back to
// the undo stack.
func (h *History) Redo(net *graph.Network) error {
	if len(h.redo) == 0 {
		return ErrNothingToRedo
	}
	rec := h.redo[len(h.redo)-1]
	inverse, err := rec.invert(net)
	if err != nil {
		return fmt.Errorf("redo: %w", err)
	}
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, inverse)
	return nil
}

// CanUndo reports whether the undo stack is nonempty.
func (h *History) CanUndo() bool { return len(h.undo) > 0 }

// CanRedo reports whether the redo stack is nonempty.
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// UndoLen returns the undo stack depth.
func (h *History) UndoLen() int { return len(h.undo) }

// RedoLen returns the redo stack depth.
func (h *History) RedoLen() int { return len(h.redo) }

// Reset drops both stacks.
func (h *History) Reset() {
	h.undo = nil
	h.redo = nil
}
