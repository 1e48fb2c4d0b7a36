package compiler

import (
	"slices"

	"github.com/trellisdev/trellis/internal/ir"
)

// Metadata is the process-wide protonode table. It records, for every
// protonode the runtime has been told about, its construction arguments,
// how many live references point at it, and which protonodes consume it.
//
// A reference is either an abstract node whose resolved identity equals
// the protonode's SNI, or a resolved input slot that owns the protonode
// (a value literal, or a spliced nullifier and its mask). When the last
// reference goes away the protonode is scheduled for removal; a reference
// gained during the same compile cancels the scheduling.
//
// Metadata is not safe for concurrent use. The engine serializes all
// compilation on a single writer.
type Metadata struct {
	entries   map[ir.SNI]*protoEntry
	scheduled []ir.SNI
}

type protoEntry struct {
	args      ir.ConstructionArgs
	usage     int
	callers   map[ir.SNI]struct{}
	scheduled bool
}

// NewMetadata creates an empty protonode table.
func NewMetadata() *Metadata {
	return &Metadata{entries: make(map[ir.SNI]*protoEntry)}
}

// Len is the number of live protonodes.
func (m *Metadata) Len() int { return len(m.entries) }

// Has reports whether a protonode with this SNI is live.
func (m *Metadata) Has(sni ir.SNI) bool {
	_, ok := m.entries[sni]
	return ok
}

// Args returns the construction arguments recorded for a protonode.
func (m *Metadata) Args(sni ir.SNI) (ir.ConstructionArgs, bool) {
	e, ok := m.entries[sni]
	if !ok {
		return nil, false
	}
	return e.args, true
}

// Usage returns the live reference count, or 0 for unknown SNIs.
func (m *Metadata) Usage(sni ir.SNI) int {
	e, ok := m.entries[sni]
	if !ok {
		return 0
	}
	return e.usage
}

// Callers returns the protonodes that consume sni as an input, sorted.
func (m *Metadata) Callers(sni ir.SNI) []ir.SNI {
	e, ok := m.entries[sni]
	if !ok {
		return nil
	}
	out := make([]ir.SNI, 0, len(e.callers))
	for caller := range e.callers {
		out = append(out, caller)
	}
	slices.Sort(out)
	return out
}

// SNIs returns every live SNI, sorted.
func (m *Metadata) SNIs() []ir.SNI {
	out := make([]ir.SNI, 0, len(m.entries))
	for sni := range m.entries {
		out = append(out, sni)
	}
	slices.Sort(out)
	return out
}

// Register records a new protonode with one reference and registers it as
// a caller of each of its input SNIs. The SNI must not already be live.
func (m *Metadata) Register(sni ir.SNI, args ir.ConstructionArgs) {
	m.entries[sni] = &protoEntry{
		args:    args,
		usage:   1,
		callers: make(map[ir.SNI]struct{}),
	}
	if op, ok := args.(ir.OpArgs); ok {
		for _, in := range op.Inputs {
			if dep, ok := m.entries[in.SNI]; ok {
				dep.callers[sni] = struct{}{}
			}
		}
	}
}

// Increment adds a reference, cancelling any pending removal. Returns the
// new usage count.
func (m *Metadata) Increment(sni ir.SNI) int {
	e, ok := m.entries[sni]
	if !ok {
		return 0
	}
	e.usage++
	e.scheduled = false
	return e.usage
}

// Decrement drops a reference. A protonode that reaches zero is scheduled
// for removal at the end of the current compile. Returns the new usage
// count.
func (m *Metadata) Decrement(sni ir.SNI) int {
	e, ok := m.entries[sni]
	if !ok {
		return 0
	}
	e.usage--
	if e.usage <= 0 && !e.scheduled {
		e.scheduled = true
		m.scheduled = append(m.scheduled, sni)
	}
	return e.usage
}

// ScheduledZero reports whether sni is scheduled for removal and has no
// remaining references.
func (m *Metadata) ScheduledZero(sni ir.SNI) bool {
	e, ok := m.entries[sni]
	return ok && e.scheduled && e.usage <= 0
}

// Remove deletes a protonode and unregisters it as a caller of its
// inputs. Inputs already removed are tolerated.
func (m *Metadata) Remove(sni ir.SNI) {
	e, ok := m.entries[sni]
	if !ok {
		return
	}
	if op, ok := e.args.(ir.OpArgs); ok {
		for _, in := range op.Inputs {
			if dep, ok := m.entries[in.SNI]; ok {
				delete(dep.callers, sni)
			}
		}
	}
	delete(m.entries, sni)
}

// TakeScheduled returns the SNIs still scheduled with zero references, in
// scheduling order, and clears the schedule. Entries revived by
// deduplication during the compile are skipped. An entry revived and
// dropped again appears in the slice twice, so duplicates are filtered.
func (m *Metadata) TakeScheduled() []ir.SNI {
	var out []ir.SNI
	seen := make(map[ir.SNI]bool, len(m.scheduled))
	for _, sni := range m.scheduled {
		if !seen[sni] && m.ScheduledZero(sni) {
			seen[sni] = true
			out = append(out, sni)
		}
	}
	m.scheduled = nil
	return out
}

// Reset drops the entire table. Used when the runtime tree is rebuilt
// from scratch after an invariant violation.
func (m *Metadata) Reset() {
	m.entries = make(map[ir.SNI]*protoEntry)
	m.scheduled = nil
}
