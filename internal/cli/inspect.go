package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trellisdev/trellis/internal/engine"
	"github.com/trellisdev/trellis/internal/graph"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <document.yaml> <node-id>",
		Short: "Show a node's identity, usage and context demand",
		Long: `Compile a document and report one node's runtime state.

The report shows the node's content-derived identity, how many resolution
sites share it, which context features its subtree demands, and whether
the runtime holds a live executable node for it. Nodes outside the export
subtree stay unresolved and report no identity.

Examples:
  trellis inspect demo.yaml add1
  trellis inspect demo.yaml mul1 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runInspect(opts *RootOptions, path, nodeID string, cmd *cobra.Command) error {
	formatter := newOutput(opts, cmd)

	h, _, err := loadAndApply(cmd.Context(), path)
	if err != nil {
		return outputCompileFailure(formatter, err)
	}
	defer h.Stop()

	if _, err := h.Session.Compile(); err != nil {
		return outputCompileFailure(formatter, err)
	}

	report, err := h.Session.Inspect(graph.NodeID(nodeID))
	if err != nil {
		if graph.IsNotFound(err) {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", ErrCodeNotFound, err.Error()))
		}
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "inspecting node", err)
	}

	return outputInspectReport(formatter, report)
}

func outputInspectReport(formatter *OutputFormatter, report engine.Report) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	identity := "unresolved"
	if report.Resolved {
		identity = report.SNI.String()
	}
	demand := "none"
	if len(report.Demand) > 0 {
		demand = strings.Join(report.Demand, ", ")
	}

	fmt.Fprintf(formatter.Writer, "Node:     %s\n", report.Node)
	if report.Type != "" {
		fmt.Fprintf(formatter.Writer, "Type:     %s\n", report.Type)
	}
	fmt.Fprintf(formatter.Writer, "Identity: %s\n", identity)
	fmt.Fprintf(formatter.Writer, "Resolved: %t\n", report.Resolved)
	fmt.Fprintf(formatter.Writer, "Usage:    %d\n", report.Usage)
	fmt.Fprintf(formatter.Writer, "Live:     %t\n", report.Live)
	fmt.Fprintf(formatter.Writer, "Demand:   %s\n", demand)
	return nil
}
