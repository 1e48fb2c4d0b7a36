package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trellisdev/trellis/internal/compiler"
	"github.com/trellisdev/trellis/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult is the JSON shape of one compile: the ordered update
// diff plus the root identity, its demand and the diff counts.
type CompilationResult struct {
	Document     string                `json:"document"`
	Root         ir.SNI                `json:"root"`
	RootDemand   []string              `json:"root_demand"`
	Revision     int64                 `json:"revision"`
	Added        int                   `json:"added"`
	Deduplicated int                   `json:"deduplicated"`
	Removed      int                   `json:"removed"`
	Nodes        []ir.ProtonodeUpdate  `json:"nodes"`
	Diagnostics  []compiler.Diagnostic `json:"diagnostics,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <document.yaml>",
		Short: "Compile a document to a runtime update",
		Long: `Compile a document into the ordered update that would bring an empty
runtime in sync: constructions for every distinct identity in the export
subtree, producers before consumers.

Nodes that cannot resolve yet (unset inputs, dangling wires) defer with a
diagnostic instead of failing the compile.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompileCmd(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the update as JSON to this file")

	return cmd
}

func runCompileCmd(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newOutput(opts.RootOptions, cmd)

	h, file, err := loadAndApply(cmd.Context(), path)
	if err != nil {
		return outputCompileFailure(formatter, err)
	}
	defer h.Stop()

	formatter.VerboseLog("Applied %s: %d node(s), export %q", path, len(file.Nodes), file.Export)

	res, err := h.Session.Compile()
	if err != nil {
		return outputCompileFailure(formatter, err)
	}

	added, deduplicated, removed := res.Update.Counts()
	result := &CompilationResult{
		Document:     documentName(path),
		Root:         res.Update.Root,
		RootDemand:   res.Update.RootDemand.Names(),
		Revision:     res.Update.Revision,
		Added:        added,
		Deduplicated: deduplicated,
		Removed:      removed,
		Nodes:        res.Update.Nodes,
		Diagnostics:  res.Diagnostics,
	}

	if opts.Output != "" {
		if err := writeUpdateFile(res.Update, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFile, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to write update", err)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Compiled %s: %d new, %d deduplicated, %d removed\n\n",
		result.Document, result.Added, result.Deduplicated, result.Removed)

	if result.Root.IsZero() {
		fmt.Fprintln(formatter.Writer, "Root: unresolved")
	} else {
		fmt.Fprintf(formatter.Writer, "Root: %s (revision %d)\n", result.Root, result.Revision)
	}
	if len(result.RootDemand) > 0 {
		fmt.Fprintf(formatter.Writer, "Demand: %s\n", strings.Join(result.RootDemand, ", "))
	}

	if len(result.Nodes) > 0 {
		fmt.Fprintln(formatter.Writer)
		fmt.Fprintln(formatter.Writer, "Updates:")
		for _, n := range result.Nodes {
			fmt.Fprintf(formatter.Writer, "  %s\n", formatUpdateLine(n))
		}
	}

	if len(result.Diagnostics) > 0 {
		fmt.Fprintln(formatter.Writer)
		fmt.Fprintln(formatter.Writer, "Diagnostics:")
		for _, d := range result.Diagnostics {
			fmt.Fprintf(formatter.Writer, "  %s\n", d.String())
		}
	}

	if outputFile != "" {
		fmt.Fprintln(formatter.Writer)
		fmt.Fprintf(formatter.Writer, "Wrote update to %s\n", outputFile)
	}

	return nil
}

// formatUpdateLine renders one diff entry for text output.
func formatUpdateLine(u ir.ProtonodeUpdate) string {
	switch n := u.(type) {
	case ir.NewProtonode:
		switch args := n.Args.(type) {
		case ir.ValueArgs:
			return fmt.Sprintf("new    %s  %s", n.SNI, displayIRValue(args.Value))
		case ir.OpArgs:
			refs := make([]string, len(args.Inputs))
			for i, in := range args.Inputs {
				refs[i] = shortSNI(in.SNI)
			}
			return fmt.Sprintf("new    %s  %s(%s)", n.SNI, args.Identifier, strings.Join(refs, ", "))
		}
		return fmt.Sprintf("new    %s", n.SNI)
	case ir.Deduplicated:
		return fmt.Sprintf("dedup  %s", n.SNI)
	case ir.Remove:
		return fmt.Sprintf("remove %s", n.SNI)
	default:
		return fmt.Sprintf("?      %T", u)
	}
}

// shortSNI abbreviates an identity for inline display.
func shortSNI(s ir.SNI) string {
	return s.String()[:8]
}

// displayIRValue renders an IR value for text output.
func displayIRValue(v ir.Value) string {
	data, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

// outputCompileFailure maps a failed compile or load onto output and exit
// codes. Validator findings render as a list; everything else is a single
// error line.
func outputCompileFailure(formatter *OutputFormatter, err error) error {
	if vf, ok := asValidationFailure(err); ok {
		return outputValidationErrors(formatter, vf.Findings)
	}

	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
	}

	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		_ = formatter.Error(ErrCodeCompile, compileErr.Error(), nil)
		// Fatal compile errors leave the document untouched; the command
		// itself still failed its job.
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", ErrCodeCompile, compileErr.Error()))
	}

	_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", ErrCodeGeneric, err.Error()))
}

// writeUpdateFile writes the update to a file as indented JSON. The
// compact canonical form is for hashing; files meant for people get
// indentation.
func writeUpdateFile(update ir.RuntimeUpdate, filename string) error {
	data, err := json.MarshalIndent(update, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling update: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
