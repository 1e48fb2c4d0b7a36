package engine

import "sync/atomic"

// Clock issues the logical seq numbers that order a session's journal.
// Mutations are stamped before they are appended, so replaying rows in
// seq order reconstructs exactly the applied order; wall time never
// participates in ordering. A session resumed from a journal seeds its
// clock with the last persisted seq and continues from there.
//
// Safe for concurrent use, though the session's single writer is
// normally the only caller of Next.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock starting at zero.
func NewClock() *Clock { return &Clock{} }

// NewClockAt returns a clock that hands out seqs after start.
func NewClockAt(start int64) *Clock {
	var c Clock
	c.last.Store(start)
	return &c
}

// Next claims the next seq. Every call returns a distinct, increasing
// value.
func (c *Clock) Next() int64 { return c.last.Add(1) }

// Current reports the last claimed seq without advancing.
func (c *Clock) Current() int64 { return c.last.Load() }
