package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisdev/trellis/internal/graph"
)

func wire(t *testing.T, net *graph.Network, id graph.NodeID, port int, target graph.NodeID) {
	t.Helper()
	_, err := net.SetInput(id, port, graph.Connection{Node: target})
	require.NoError(t, err)
}

// TestFindCycle_EmptyNetwork tests that an empty network is acyclic.
func TestFindCycle_EmptyNetwork(t *testing.T) {
	assert.Nil(t, findCycle(graph.NewNetwork()))
}

// TestFindCycle_Diamond tests that converging paths are not reported as a
// cycle.
func TestFindCycle_Diamond(t *testing.T) {
	net := graph.NewNetwork()
	for _, id := range []graph.NodeID{"top", "left", "right"} {
		require.NoError(t, net.Add(graph.NewNode(id, "trellis/math/negate", 1, graph.Position{})))
	}
	require.NoError(t, net.Add(graph.NewNode("bottom", "trellis/math/add", 2, graph.Position{})))
	wire(t, net, "left", 0, "top")
	wire(t, net, "right", 0, "top")
	wire(t, net, "bottom", 0, "left")
	wire(t, net, "bottom", 1, "right")

	assert.Nil(t, findCycle(net))
}

// TestFindCycle_SelfLoop tests that a node wired to itself reports a
// two-element path.
func TestFindCycle_SelfLoop(t *testing.T) {
	net := graph.NewNetwork()
	require.NoError(t, net.Add(graph.NewNode("a", "trellis/math/negate", 1, graph.Position{})))
	wire(t, net, "a", 0, "a")

	path := findCycle(net)
	assert.Equal(t, []graph.NodeID{"a", "a"}, path)
}

// TestFindCycle_TwoNodeCycle tests detection of a -> b -> a.
func TestFindCycle_TwoNodeCycle(t *testing.T) {
	net := graph.NewNetwork()
	require.NoError(t, net.Add(graph.NewNode("a", "trellis/math/negate", 1, graph.Position{})))
	require.NoError(t, net.Add(graph.NewNode("b", "trellis/math/negate", 1, graph.Position{})))
	wire(t, net, "a", 0, "b")
	wire(t, net, "b", 0, "a")

	path := findCycle(net)
	require.Len(t, path, 3, "two-node cycle renders as a -> b -> a")
	assert.Equal(t, path[0], path[len(path)-1], "path returns to its start")
}

// TestFindCycle_LongCycle tests detection of a five-node loop.
func TestFindCycle_LongCycle(t *testing.T) {
	net := graph.NewNetwork()
	ids := []graph.NodeID{"n1", "n2", "n3", "n4", "n5"}
	for _, id := range ids {
		require.NoError(t, net.Add(graph.NewNode(id, "trellis/math/negate", 1, graph.Position{})))
	}
	for i, id := range ids {
		wire(t, net, id, 0, ids[(i+1)%len(ids)])
	}

	path := findCycle(net)
	require.Len(t, path, 6)
	assert.Equal(t, path[0], path[len(path)-1])
}

// TestFindCycle_DisconnectedCycleStillFound tests that a cycle outside the
// export subtree is still detected.
func TestFindCycle_DisconnectedCycleStillFound(t *testing.T) {
	net := graph.NewNetwork()
	require.NoError(t, net.Add(graph.NewNode("root", "trellis/math/negate", 1, graph.Position{})))
	require.NoError(t, net.Add(graph.NewNode("x", "trellis/math/negate", 1, graph.Position{})))
	require.NoError(t, net.Add(graph.NewNode("y", "trellis/math/negate", 1, graph.Position{})))
	wire(t, net, "x", 0, "y")
	wire(t, net, "y", 0, "x")
	_, err := net.SetExport("root")
	require.NoError(t, err)

	path := findCycle(net)
	require.NotNil(t, path)
	assert.NotContains(t, path, graph.NodeID("root"))
}

// TestFindCycle_DanglingConnectionIgnored tests that a wire to a missing
// node contributes no edge.
func TestFindCycle_DanglingConnectionIgnored(t *testing.T) {
	net := graph.NewNetwork()
	require.NoError(t, net.Add(graph.NewNode("a", "trellis/math/negate", 1, graph.Position{})))
	wire(t, net, "a", 0, "ghost")

	assert.Nil(t, findCycle(net))
}
