package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trellisdev/trellis/internal/harness"
)

// TestOptions carries the flags accepted by the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // rewrite goldens instead of comparing
	Filter string // glob applied to scenario basenames
}

// ScenarioResult is the outcome of one scenario run.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult aggregates a whole run.
type TestResult struct {
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

// NewTestCommand builds the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario harness",
		Long: `Run scenario files through the harness.

Each scenario builds a document step by step, compiles, evaluates and
asserts on the results. The recorded trace is also compared against a
golden file when one exists next to the scenario under golden/. Any
failed scenario makes the command exit 1; bad paths or flags exit 2.

Examples:
  trellis test ./scenarios
  trellis test ./scenarios --filter "undo-*"
  trellis test ./scenarios --update
  trellis test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from the current run")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenario directory not found: %s", scenariosDir))
	}

	files, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return fmt.Errorf("scan for scenarios: %w", err)
	}

	r := &scenarioRunner{
		opts:  opts,
		out:   cmd.OutOrStdout(),
		quiet: opts.Format == "json",
	}

	if len(files) == 0 {
		if r.quiet {
			return emitTestResult(cmd, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(r.out, "No scenarios found.")
		return nil
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		result.Scenarios = append(result.Scenarios, r.run(file))
	}
	for _, sr := range result.Scenarios {
		if sr.Pass {
			result.Passed++
		}
	}
	result.Failed = result.Total - result.Passed

	if r.quiet {
		return emitTestResult(cmd, result)
	}
	return summarizeText(r.out, result)
}

// findScenarioFiles walks dir for YAML scenario files, subdirectories
// included, optionally keeping only basenames that match the glob
// filter. WalkDir visits lexically, so the run order is deterministic.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		switch ext {
		case ".yaml", ".yml":
		default:
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			ok, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// scenarioRunner executes scenarios one at a time. In text mode each
// scenario reports a progress line as it finishes; in JSON mode (quiet)
// everything is buffered into the final envelope instead.
type scenarioRunner struct {
	opts  *TestOptions
	out   io.Writer
	quiet bool
}

func (r *scenarioRunner) run(file string) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		r.report(filepath.Base(file), false, "", []string{fmt.Sprintf("Load error: %v", err)})
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("load scenario: %v", err)},
		}
	}

	result, err := harness.Run(scenario)
	if err != nil {
		r.report(scenario.Name, false, "", []string{fmt.Sprintf("Execution error: %v", err)})
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("run scenario: %v", err)},
		}
	}

	if r.opts.Update {
		if err := writeGolden(scenario, result, file); err != nil {
			r.report(scenario.Name, false, "", []string{fmt.Sprintf("Golden update error: %v", err)})
			return ScenarioResult{
				Name:   scenario.Name,
				Errors: []string{fmt.Sprintf("update golden: %v", err)},
			}
		}
		r.report(scenario.Name, true, "golden updated", nil)
		return ScenarioResult{Name: scenario.Name, Pass: true}
	}

	// A scenario without a golden file is judged by its assertions
	// alone.
	golden := goldenFilePath(file)
	if _, statErr := os.Stat(golden); !os.IsNotExist(statErr) {
		match, err := goldenMatches(scenario, result, golden)
		if err != nil {
			r.report(scenario.Name, false, "", []string{fmt.Sprintf("Golden comparison error: %v", err)})
			return ScenarioResult{
				Name:   scenario.Name,
				Errors: []string{fmt.Sprintf("golden comparison failed: %v", err)},
			}
		}
		if !match {
			r.report(scenario.Name, false, "", []string{"Golden file mismatch (run with --update to regenerate)"})
			return ScenarioResult{
				Name:   scenario.Name,
				Errors: []string{"trace does not match golden file"},
			}
		}
	}

	if !result.Pass {
		r.report(scenario.Name, false, "", result.Errors)
		return ScenarioResult{Name: scenario.Name, Errors: result.Errors}
	}
	r.report(scenario.Name, true, "", nil)
	return ScenarioResult{Name: scenario.Name, Pass: true}
}

// report prints one progress line, plus indented detail lines, in text
// mode.
func (r *scenarioRunner) report(name string, pass bool, note string, details []string) {
	if r.quiet {
		return
	}
	mark := "✓"
	if !pass {
		mark = "✗"
	}
	if note != "" {
		fmt.Fprintf(r.out, "%s %s (%s)\n", mark, name, note)
	} else {
		fmt.Fprintf(r.out, "%s %s\n", mark, name)
	}
	for _, d := range details {
		fmt.Fprintf(r.out, "  %s\n", d)
	}
}

// goldenFilePath maps a scenario file to its golden file, which lives
// in a golden/ subdirectory next to the scenario.
func goldenFilePath(scenarioFile string) string {
	name := strings.TrimSuffix(filepath.Base(scenarioFile), filepath.Ext(scenarioFile))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// canonicalTrace renders the normalized trace bytes that golden files
// store and compares happen against.
func canonicalTrace(scenario *harness.Scenario, result *harness.Result) ([]byte, error) {
	snapshot := harness.TraceSnapshot{Scenario: scenario.Name, Trace: result.Trace}
	return snapshot.CanonicalTrace()
}

// writeGolden records the current trace as the golden file.
func writeGolden(scenario *harness.Scenario, result *harness.Result, scenarioFile string) error {
	path := goldenFilePath(scenarioFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden directory: %w", err)
	}
	data, err := canonicalTrace(scenario, result)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write golden file: %w", err)
	}
	return nil
}

// goldenMatches compares the trace against the stored golden bytes.
func goldenMatches(scenario *harness.Scenario, result *harness.Result, goldenPath string) (bool, error) {
	want, err := os.ReadFile(goldenPath)
	if err != nil {
		return false, fmt.Errorf("read golden file: %w", err)
	}
	got, err := canonicalTrace(scenario, result)
	if err != nil {
		return false, fmt.Errorf("marshal current trace: %w", err)
	}
	return bytes.Equal(want, got), nil
}

// emitTestResult writes the JSON envelope. Failed scenarios also flip
// the process exit code to 1.
func emitTestResult(cmd *cobra.Command, result TestResult) error {
	resp := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return NewExitError(ExitFailure, resp.Error.Message)
	}
	return nil
}

// summarizeText prints the closing summary lines.
func summarizeText(w io.Writer, result TestResult) error {
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
		return nil
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
}
