package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileCommand_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"compile", "testdata/add_multiply.yaml"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ Compiled add_multiply: 5 new, 0 deduplicated, 0 removed")
	assert.Contains(t, output, "Root: ")
	assert.NotContains(t, output, "Root: unresolved")
	assert.Contains(t, output, "Updates:")
	assert.Contains(t, output, "trellis/math/add(")
	assert.Contains(t, output, "trellis/math/multiply(")
	assert.NotContains(t, output, "Diagnostics:")
}

func TestCompileCommand_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--format", "json", "compile", "testdata/add_multiply.yaml"})

	err := cmd.Execute()
	require.NoError(t, err)

	// Nodes is a slice of interface values, so the assertions decode the
	// raw JSON instead of the Go types.
	var response struct {
		Status string `json:"status"`
		Data   struct {
			Document     string            `json:"document"`
			Root         string            `json:"root"`
			RootDemand   []string          `json:"root_demand"`
			Revision     int64             `json:"revision"`
			Added        int               `json:"added"`
			Deduplicated int               `json:"deduplicated"`
			Removed      int               `json:"removed"`
			Nodes        []json.RawMessage `json:"nodes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))

	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "add_multiply", response.Data.Document)
	assert.Equal(t, 5, response.Data.Added)
	assert.Equal(t, 0, response.Data.Deduplicated)
	assert.Equal(t, 0, response.Data.Removed)
	assert.Len(t, response.Data.Root, 16)
	assert.NotEqual(t, "0000000000000000", response.Data.Root)
	require.Len(t, response.Data.Nodes, 5)

	for _, raw := range response.Data.Nodes {
		var node struct {
			Kind string `json:"kind"`
		}
		require.NoError(t, json.Unmarshal(raw, &node))
		assert.Equal(t, "new", node.Kind)
	}
}

func TestCompileCommand_OutputFile(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "update.json")

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"compile", "testdata/add_multiply.yaml", "-o", outPath})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Wrote update to "+outPath)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var update struct {
		Nodes      []json.RawMessage `json:"nodes"`
		Root       string            `json:"root"`
		RootDemand []string          `json:"root_demand"`
		Revision   int64             `json:"revision"`
	}
	require.NoError(t, json.Unmarshal(data, &update))
	assert.Len(t, update.Nodes, 5)
	assert.Len(t, update.Root, 16)
	assert.NotNil(t, update.RootDemand)
}

func TestCompileCommand_UnresolvedRoot(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"compile", "testdata/unwired.yaml"})

	// Deferred nodes are diagnostics, not failures.
	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ Compiled unwired: 1 new, 0 deduplicated, 0 removed")
	assert.Contains(t, output, "Root: unresolved")
	assert.Contains(t, output, "Diagnostics:")
	assert.Contains(t, output, "UNRESOLVED_SNI: node add1 port 1: input is unset")
}

func TestCompileCommand_InvalidDocument(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"compile", "testdata/invalid.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed with 3 error(s)")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, "E103")
}

func TestCompileCommand_NotFound(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"compile", "testdata/missing.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E004")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileCommand_VerboseOutput(t *testing.T) {
	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{"--verbose", "compile", "testdata/add_multiply.yaml"})

	err := cmd.Execute()
	require.NoError(t, err)

	// Verbose logs go to stderr to avoid corrupting JSON output
	assert.Contains(t, errBuf.String(), `Applied testdata/add_multiply.yaml: 2 node(s), export "mul1"`)
}

func TestFormatUpdateLine(t *testing.T) {
	h, _, err := loadAndApply(context.Background(), "testdata/add_multiply.yaml")
	require.NoError(t, err)
	defer h.Stop()

	res, err := h.Session.Compile()
	require.NoError(t, err)
	require.Len(t, res.Update.Nodes, 5)

	lines := make([]string, 0, len(res.Update.Nodes))
	for _, n := range res.Update.Nodes {
		lines = append(lines, formatUpdateLine(n))
	}

	// Producers come before consumers: the literals for the add node, the
	// add itself, the remaining literal, then the export.
	assert.True(t, strings.HasSuffix(lines[0], "  1"), "line %q", lines[0])
	assert.Contains(t, lines[2], "trellis/math/add(")
	assert.Contains(t, lines[4], "trellis/math/multiply(")
}
