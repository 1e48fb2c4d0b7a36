package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisdev/trellis/internal/ir"
)

func TestNewNodeArity(t *testing.T) {
	n := NewNode("a", "trellis/math/add", 2, Position{X: 10, Y: 20})

	assert.Len(t, n.Inputs, 2)
	assert.Len(t, n.Slots, 2)
	assert.IsType(t, Unset{}, n.Inputs[0])
	assert.IsType(t, Unset{}, n.Inputs[1])
	assert.Equal(t, Position{X: 10, Y: 20}, n.Pos)
	assert.True(t, n.AssignedSNI.IsZero())
}

func TestSnapshotIsIndependent(t *testing.T) {
	n := NewNode("a", "x", 2, Position{})
	n.Inputs[0] = ValueInput{Value: ir.Int(1)}
	n.AssignedSNI = 0x99
	n.Slots[0] = SlotResolution{Effective: 0x11}

	snap := n.Snapshot()

	assert.True(t, snap.AssignedSNI.IsZero(), "snapshots carry no resolutions")
	assert.True(t, snap.Slots[0].IsZero())
	assert.Equal(t, ValueInput{Value: ir.Int(1)}, snap.Inputs[0])

	n.Inputs[0] = ValueInput{Value: ir.Int(2)}
	assert.Equal(t, ValueInput{Value: ir.Int(1)}, snap.Inputs[0],
		"mutating the original must not reach the snapshot")
}

func TestConnected(t *testing.T) {
	n := NewNode("a", "x", 2, Position{})
	n.Inputs[0] = Connection{Node: "b", Output: 1}
	n.Inputs[1] = ValueInput{Value: ir.Int(3)}

	assert.True(t, n.Connected(0, "b"))
	assert.False(t, n.Connected(0, "c"))
	assert.False(t, n.Connected(1, "b"), "value slot is not a connection")
	assert.False(t, n.Connected(5, "b"), "out of range is just false")
}

func TestSlotResolutionIsZero(t *testing.T) {
	assert.True(t, SlotResolution{}.IsZero())
	assert.False(t, SlotResolution{Effective: 1}.IsZero())
	assert.False(t, SlotResolution{Mask: 1}.IsZero())
}

func TestInputJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"value", ValueInput{Value: ir.Map{"k": ir.Int(1)}}},
		{"connection", Connection{Node: "b", Output: 2}},
		{"connection default output", Connection{Node: "b"}},
		{"unset", Unset{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalInput(tt.in)
			require.NoError(t, err)

			back, err := UnmarshalInput(data)
			require.NoError(t, err)

			switch want := tt.in.(type) {
			case ValueInput:
				got, ok := back.(ValueInput)
				require.True(t, ok)
				assert.True(t, ir.Equal(want.Value, got.Value))
			default:
				assert.Equal(t, tt.in, back)
			}
		})
	}
}

func TestInputJSONShapes(t *testing.T) {
	data, err := MarshalInput(ValueInput{Value: ir.Int(5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"value","value":5}`, string(data))

	data, err = MarshalInput(Connection{Node: "b", Output: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"connection","node":"b","output":0}`, string(data))

	data, err = MarshalInput(Unset{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"unset"}`, string(data))
}

func TestUnmarshalInputRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown kind", `{"kind":"wormhole"}`},
		{"missing kind", `{}`},
		{"connection without node", `{"kind":"connection","output":0}`},
		{"negative output", `{"kind":"connection","node":"b","output":-1}`},
		{"float value", `{"kind":"value","value":1.5}`},
		{"null value", `{"kind":"value","value":null}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalInput([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestMarshalInputNil(t *testing.T) {
	_, err := MarshalInput(nil)
	assert.Error(t, err)
}
