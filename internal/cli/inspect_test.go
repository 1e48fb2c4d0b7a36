package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisdev/trellis/internal/engine"
)

func TestInspectCommand_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"inspect", "testdata/add_multiply.yaml", "add1"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Node:     add1")
	assert.Contains(t, output, "Type:     trellis/math/add")
	assert.Contains(t, output, "Resolved: true")
	assert.Contains(t, output, "Usage:    1")
	assert.Contains(t, output, "Live:     true")
	assert.Contains(t, output, "Demand:   none")
	assert.NotContains(t, output, "Identity: unresolved")
}

func TestInspectCommand_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--format", "json", "inspect", "testdata/add_multiply.yaml", "mul1"})

	err := cmd.Execute()
	require.NoError(t, err)

	var response struct {
		Status string        `json:"status"`
		Data   engine.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))

	assert.Equal(t, "ok", response.Status)
	assert.EqualValues(t, "mul1", response.Data.Node)
	assert.Equal(t, "trellis/math/multiply", response.Data.Type)
	assert.True(t, response.Data.Resolved)
	assert.True(t, response.Data.Live)
	assert.False(t, response.Data.SNI.IsZero())
	assert.Equal(t, 1, response.Data.Usage)
}

func TestInspectCommand_ContextDemand(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"inspect", "testdata/anim.yaml", "clock"})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Demand:   animation_time")
}

func TestInspectCommand_UnresolvedNode(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"inspect", "testdata/unwired.yaml", "add1"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Identity: unresolved")
	assert.Contains(t, output, "Resolved: false")
	assert.Contains(t, output, "Live:     false")
}

func TestInspectCommand_UnknownNode(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"inspect", "testdata/add_multiply.yaml", "ghost"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E004")
	assert.Contains(t, err.Error(), `node "ghost" not found`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInspectCommand_MissingArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"inspect", "testdata/add_multiply.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg(s)")
}

func TestInspectCommand_DocumentNotFound(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"inspect", "testdata/missing.yaml", "add1"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E004")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
