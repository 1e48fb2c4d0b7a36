package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisdev/trellis/internal/ir"
)

// TestMetadata_RegisterTracksCallers tests that registering an operation
// protonode records it as a caller of each input.
func TestMetadata_RegisterTracksCallers(t *testing.T) {
	m := NewMetadata()

	a := ir.MustValueSNI(ir.Int(1))
	b := ir.MustValueSNI(ir.Int(2))
	m.Register(a, ir.ValueArgs{Value: ir.Int(1)})
	m.Register(b, ir.ValueArgs{Value: ir.Int(2)})

	op := ir.NodeSNI("trellis/math/add", []ir.InputRef{{SNI: a}, {SNI: b}})
	m.Register(op, ir.OpArgs{Identifier: "trellis/math/add", Inputs: []ir.InputRef{{SNI: a}, {SNI: b}}})

	assert.Equal(t, []ir.SNI{op}, m.Callers(a))
	assert.Equal(t, []ir.SNI{op}, m.Callers(b))
	assert.Empty(t, m.Callers(op), "nothing consumes the operation yet")
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 1, m.Usage(op))
}

// TestMetadata_DecrementSchedulesAtZero tests that the last reference
// schedules the protonode for removal.
func TestMetadata_DecrementSchedulesAtZero(t *testing.T) {
	m := NewMetadata()
	sni := ir.MustValueSNI(ir.Int(7))
	m.Register(sni, ir.ValueArgs{Value: ir.Int(7)})
	m.Increment(sni)

	assert.Equal(t, 1, m.Decrement(sni))
	assert.False(t, m.ScheduledZero(sni), "one reference left")

	assert.Equal(t, 0, m.Decrement(sni))
	assert.True(t, m.ScheduledZero(sni))
	assert.True(t, m.Has(sni), "scheduled entries stay in the table until taken")
}

// TestMetadata_IncrementRevivesScheduled tests that a reference gained
// after scheduling cancels the removal.
func TestMetadata_IncrementRevivesScheduled(t *testing.T) {
	m := NewMetadata()
	sni := ir.MustValueSNI(ir.Int(7))
	m.Register(sni, ir.ValueArgs{Value: ir.Int(7)})
	m.Decrement(sni)
	require.True(t, m.ScheduledZero(sni))

	m.Increment(sni)
	assert.False(t, m.ScheduledZero(sni))
	assert.Empty(t, m.TakeScheduled(), "revived entries are filtered out")
	assert.Equal(t, 1, m.Usage(sni))
}

// TestMetadata_TakeScheduledPreservesOrder tests that removals come out in
// scheduling order and the schedule is cleared.
func TestMetadata_TakeScheduledPreservesOrder(t *testing.T) {
	m := NewMetadata()
	first := ir.MustValueSNI(ir.Int(1))
	second := ir.MustValueSNI(ir.Int(2))
	m.Register(first, ir.ValueArgs{Value: ir.Int(1)})
	m.Register(second, ir.ValueArgs{Value: ir.Int(2)})

	m.Decrement(first)
	m.Decrement(second)

	assert.Equal(t, []ir.SNI{first, second}, m.TakeScheduled())
	assert.Empty(t, m.TakeScheduled(), "taking drains the schedule")
}

// TestMetadata_TakeScheduledFiltersDuplicates tests that an entry revived
// and dropped again within one compile is reported once.
func TestMetadata_TakeScheduledFiltersDuplicates(t *testing.T) {
	m := NewMetadata()
	sni := ir.MustValueSNI(ir.Int(7))
	m.Register(sni, ir.ValueArgs{Value: ir.Int(7)})

	m.Decrement(sni)
	m.Increment(sni)
	m.Decrement(sni)

	assert.Equal(t, []ir.SNI{sni}, m.TakeScheduled())
}

// TestMetadata_RemoveUnregistersCallers tests that removing a consumer
// drops it from its inputs' caller sets.
func TestMetadata_RemoveUnregistersCallers(t *testing.T) {
	m := NewMetadata()
	a := ir.MustValueSNI(ir.Int(1))
	m.Register(a, ir.ValueArgs{Value: ir.Int(1)})
	op := ir.NodeSNI("trellis/math/negate", []ir.InputRef{{SNI: a}})
	m.Register(op, ir.OpArgs{Identifier: "trellis/math/negate", Inputs: []ir.InputRef{{SNI: a}}})
	require.Equal(t, []ir.SNI{op}, m.Callers(a))

	m.Remove(op)

	assert.False(t, m.Has(op))
	assert.Empty(t, m.Callers(a))
	assert.True(t, m.Has(a), "inputs outlive their consumers")
}

// TestMetadata_RemoveMissingIsNoop tests that removing an unknown SNI does
// nothing.
func TestMetadata_RemoveMissingIsNoop(t *testing.T) {
	m := NewMetadata()
	m.Remove(ir.MustValueSNI(ir.Int(1)))
	assert.Equal(t, 0, m.Len())
}

// TestMetadata_UnknownSNIQueries tests the zero answers for SNIs that were
// never registered.
func TestMetadata_UnknownSNIQueries(t *testing.T) {
	m := NewMetadata()
	sni := ir.MustValueSNI(ir.Int(1))

	assert.False(t, m.Has(sni))
	assert.Equal(t, 0, m.Usage(sni))
	assert.Equal(t, 0, m.Increment(sni))
	assert.Equal(t, 0, m.Decrement(sni))
	assert.Nil(t, m.Callers(sni))

	_, ok := m.Args(sni)
	assert.False(t, ok)
}

// TestMetadata_SNIsSorted tests that the table enumerates identities in
// sorted order.
func TestMetadata_SNIsSorted(t *testing.T) {
	m := NewMetadata()
	for i := 0; i < 5; i++ {
		v := ir.Int(int64(i))
		m.Register(ir.MustValueSNI(v), ir.ValueArgs{Value: v})
	}

	snis := m.SNIs()
	require.Len(t, snis, 5)
	assert.IsIncreasing(t, snis)
}

// TestMetadata_Reset tests that reset drops entries and schedule alike.
func TestMetadata_Reset(t *testing.T) {
	m := NewMetadata()
	sni := ir.MustValueSNI(ir.Int(7))
	m.Register(sni, ir.ValueArgs{Value: ir.Int(7)})
	m.Decrement(sni)

	m.Reset()

	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.TakeScheduled())
}
