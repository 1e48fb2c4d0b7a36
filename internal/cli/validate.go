package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellisdev/trellis/internal/compiler"
	"github.com/trellisdev/trellis/internal/registry"
)

// ValidationResult is the JSON payload of a validate run.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand builds the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <document.yaml>",
		Short: "Check a document without compiling it",
		Long: `Check a document file against the builtin catalog without compiling.

Verifies the YAML shape, node types, input wiring and the export
reference. Faster than compile for editor feedback; every finding is
collected, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newOutput(opts, cmd)

	file, err := LoadDocument(path)
	if err != nil {
		// Unreadable input is a command error (exit 2), not a finding.
		code, msg := ErrCodeGeneric, err.Error()
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			code, msg = loadErr.Code, loadErr.Message
		}
		_ = formatter.Error(code, msg, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, msg))
	}

	formatter.VerboseLog("Loaded %s: %d node(s)", path, len(file.Nodes))

	if findings := file.Validate(registry.Builtin()); len(findings) > 0 {
		return outputValidationErrors(formatter, findings)
	}

	if formatter.isJSON() {
		return formatter.Success(ValidationResult{Valid: true})
	}
	fmt.Fprintln(formatter.Writer, "✓ Document valid")
	return nil
}

// outputValidationErrors renders collected validator findings and maps
// them to exit code 1. The compile command routes its findings through
// here too, so both commands report them the same way.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	fail := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.isJSON() {
		resp := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Errors: errs},
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		}
		enc := json.NewEncoder(formatter.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
		return fail
	}

	fmt.Fprintf(formatter.Writer, "✗ Validation failed\n\n")
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s (line %d)\n", e.Code, e.Field, e.Message, e.Line)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
		}
	}
	return fail
}

// ValidateDocumentFile loads one document and returns its findings.
// Embedders get the raw slice; the rendering above stays CLI-only.
func ValidateDocumentFile(path string) ([]compiler.ValidationError, error) {
	file, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return file.Validate(registry.Builtin()), nil
}
