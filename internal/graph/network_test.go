package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisdev/trellis/internal/ir"
)

func buildNode(id NodeID, nodeType string, arity int) *Node {
	return NewNode(id, nodeType, arity, Position{})
}

func TestAddAndLookup(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("a", "trellis/math/add", 2)))

	n, ok := net.Node("a")
	require.True(t, ok)
	assert.Equal(t, NodeID("a"), n.ID)
	assert.Len(t, n.Inputs, 2)
	assert.IsType(t, Unset{}, n.Inputs[0], "fresh slots are unset")
	assert.Equal(t, 1, net.Len())
}

func TestAddRejectsDuplicateID(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("a", "x", 0)))

	err := net.Add(buildNode("a", "y", 0))
	var dup *DuplicateNodeError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, NodeID("a"), dup.ID)
}

func TestNodesInsertionOrder(t *testing.T) {
	net := NewNetwork()
	for _, id := range []NodeID{"c", "a", "b"} {
		require.NoError(t, net.Add(buildNode(id, "x", 0)))
	}

	var ids []NodeID
	for _, n := range net.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []NodeID{"c", "a", "b"}, ids)
}

func TestSetInputReturnsPrevious(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("a", "x", 1)))

	prev, err := net.SetInput("a", 0, ValueInput{Value: ir.Int(1)})
	require.NoError(t, err)
	assert.IsType(t, Unset{}, prev)

	prev, err = net.SetInput("a", 0, ValueInput{Value: ir.Int(5)})
	require.NoError(t, err)
	assert.Equal(t, ValueInput{Value: ir.Int(1)}, prev)
}

func TestSetInputUnknownNode(t *testing.T) {
	net := NewNetwork()
	_, err := net.SetInput("ghost", 0, Unset{})
	assert.True(t, IsNotFound(err))
}

func TestSetInputPortOutOfRange(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("a", "x", 2)))

	_, err := net.SetInput("a", 2, Unset{})
	var pe *PortError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Port)
	assert.Equal(t, 2, pe.Arity)

	_, err = net.SetInput("a", -1, Unset{})
	assert.Error(t, err)
}

func TestSetInputDoesNotValidateConnectionTarget(t *testing.T) {
	// Dangling wires are legal document state; the compiler defers them.
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("a", "x", 1)))

	_, err := net.SetInput("a", 0, Connection{Node: "nonexistent"})
	assert.NoError(t, err)
}

func TestSetInputDisplacesResolutions(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("a", "x", 1)))

	n, _ := net.Node("a")
	n.AssignedSNI = 0x30
	n.Slots[0] = SlotResolution{Effective: 0x10}

	_, err := net.SetInput("a", 0, ValueInput{Value: ir.Int(5)})
	require.NoError(t, err)

	assert.True(t, n.AssignedSNI.IsZero(), "edited node is stale")
	assert.True(t, n.Slots[0].IsZero(), "edited slot is stale")

	dirty := net.Dirty()
	require.Len(t, dirty, 2)
	assert.Equal(t, DirtyRef{Node: "a", Port: -1, Resolution: SlotResolution{Effective: 0x30}}, dirty[0])
	assert.Equal(t, DirtyRef{Node: "a", Port: 0, Resolution: SlotResolution{Effective: 0x10}}, dirty[1])
}

func TestSetInputDisplacesOnlyOnce(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("a", "x", 1)))

	n, _ := net.Node("a")
	n.AssignedSNI = 0x30
	n.Slots[0] = SlotResolution{Effective: 0x10}

	_, err := net.SetInput("a", 0, ValueInput{Value: ir.Int(5)})
	require.NoError(t, err)
	_, err = net.SetInput("a", 0, ValueInput{Value: ir.Int(6)})
	require.NoError(t, err)

	assert.Len(t, net.Dirty(), 2, "already-stale resolutions are not re-recorded")
}

func TestDirtyPreservedUntilCleared(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("a", "x", 1)))
	n, _ := net.Node("a")
	n.AssignedSNI = 0x30

	_, err := net.SetInput("a", 0, ValueInput{Value: ir.Int(1)})
	require.NoError(t, err)

	first := net.Dirty()
	second := net.Dirty()
	assert.Equal(t, first, second, "Dirty is a read, not a drain")

	net.ClearDirty()
	assert.Empty(t, net.Dirty())
}

func TestRemoveNodeDetachesConsumers(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("src", "x", 0)))
	require.NoError(t, net.Add(buildNode("use1", "x", 1)))
	require.NoError(t, net.Add(buildNode("use2", "x", 2)))
	_, err := net.SetInput("use1", 0, Connection{Node: "src"})
	require.NoError(t, err)
	_, err = net.SetInput("use2", 1, Connection{Node: "src", Output: 0})
	require.NoError(t, err)

	removed, err := net.RemoveNode("src")
	require.NoError(t, err)

	assert.Equal(t, NodeID("src"), removed.Node.ID)
	require.Len(t, removed.Detached, 2)
	assert.Equal(t, DetachedWire{Node: "use1", Port: 0, Previous: Connection{Node: "src"}}, removed.Detached[0])
	assert.Equal(t, DetachedWire{Node: "use2", Port: 1, Previous: Connection{Node: "src", Output: 0}}, removed.Detached[1])

	_, ok := net.Node("src")
	assert.False(t, ok)

	u1, _ := net.Node("use1")
	assert.IsType(t, Unset{}, u1.Inputs[0], "consumer wire unset")
	u2, _ := net.Node("use2")
	assert.IsType(t, Unset{}, u2.Inputs[1])
}

func TestRemoveNodeDisplacesOwnedIdentities(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("a", "x", 2)))
	n, _ := net.Node("a")
	n.AssignedSNI = 0x50
	n.Slots[1] = SlotResolution{Effective: 0x40}

	_, err := net.RemoveNode("a")
	require.NoError(t, err)

	dirty := net.Dirty()
	require.Len(t, dirty, 2)
	assert.Equal(t, SlotResolution{Effective: 0x50}, dirty[0].Resolution)
	assert.Equal(t, -1, dirty[0].Port)
	assert.Equal(t, SlotResolution{Effective: 0x40}, dirty[1].Resolution)
	assert.Equal(t, 1, dirty[1].Port)
}

func TestRemoveNodeClearsExport(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("root", "x", 0)))
	_, err := net.SetExport("root")
	require.NoError(t, err)

	removed, err := net.RemoveNode("root")
	require.NoError(t, err)

	assert.True(t, removed.WasExport)
	assert.Equal(t, NodeID(""), net.Export())
}

func TestRemoveNodeUnknown(t *testing.T) {
	net := NewNetwork()
	_, err := net.RemoveNode("ghost")
	assert.True(t, IsNotFound(err))
}

func TestRemoveNodePreservesOrder(t *testing.T) {
	net := NewNetwork()
	for _, id := range []NodeID{"a", "b", "c"} {
		require.NoError(t, net.Add(buildNode(id, "x", 0)))
	}
	_, err := net.RemoveNode("b")
	require.NoError(t, err)

	var ids []NodeID
	for _, n := range net.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []NodeID{"a", "c"}, ids)
}

func TestSetExport(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("a", "x", 0)))
	require.NoError(t, net.Add(buildNode("b", "x", 0)))

	prev, err := net.SetExport("a")
	require.NoError(t, err)
	assert.Equal(t, NodeID(""), prev)

	prev, err = net.SetExport("b")
	require.NoError(t, err)
	assert.Equal(t, NodeID("a"), prev)
	assert.Equal(t, NodeID("b"), net.Export())

	_, err = net.SetExport("ghost")
	assert.True(t, IsNotFound(err))

	prev, err = net.SetExport("")
	require.NoError(t, err)
	assert.Equal(t, NodeID("b"), prev)
	assert.Equal(t, NodeID(""), net.Export())
}

func TestConsumers(t *testing.T) {
	net := NewNetwork()
	require.NoError(t, net.Add(buildNode("src", "x", 0)))
	require.NoError(t, net.Add(buildNode("u1", "x", 2)))
	require.NoError(t, net.Add(buildNode("u2", "x", 1)))
	net.ClearDirty()

	_, err := net.SetInput("u1", 0, Connection{Node: "src"})
	require.NoError(t, err)
	_, err = net.SetInput("u1", 1, Connection{Node: "src", Output: 1})
	require.NoError(t, err)
	_, err = net.SetInput("u2", 0, Connection{Node: "src"})
	require.NoError(t, err)

	assert.Equal(t, []NodeID{"u1", "u2"}, net.Consumers("src"),
		"each consumer listed once even with multiple wires")
	assert.Empty(t, net.Consumers("u2"))
}
