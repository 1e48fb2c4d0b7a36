package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trellisdev/trellis/internal/engine"
	"github.com/trellisdev/trellis/internal/ir"
	"github.com/trellisdev/trellis/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string

	// Evaluation context flags. Only flags the invocation actually set
	// become context features; the engine nullifies the rest anyway.
	AnimTime  float64
	RealTime  float64
	Index     uint64
	Position  string // "x,y"
	Footprint string // "WxH"
	Repeat    int

	// IDGenerator overrides node id minting (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// RunResult holds the evaluated output of one run.
type RunResult struct {
	Document string          `json:"document"`
	Root     ir.SNI          `json:"root"`
	Revision int64           `json:"revision"`
	Value    json.RawMessage `json:"value"`
	Repeats  int             `json:"repeats,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <document.yaml>",
		Short: "Compile a document and evaluate its export",
		Long: `Compile a document and evaluate its export under the given context.

The context flags populate the features the document's nodes can extract:
the animation clock, the wall clock, the iteration index, the canvas
position and the render footprint. Features the export subtree does not
demand are stripped before evaluation, so passing extras is harmless.

With --db, every document mutation is journaled to a SQLite file that
"trellis log" and "trellis replay" read back.

Examples:
  trellis run demo.yaml
  trellis run anim.yaml --anim-time 1.5 --repeat 3
  trellis run layout.yaml --position 10,20 --footprint 1920x1080
  trellis run demo.yaml --db ./trellis.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocument(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (optional)")
	cmd.Flags().Float64Var(&opts.AnimTime, "anim-time", 0, "animation clock in seconds")
	cmd.Flags().Float64Var(&opts.RealTime, "real-time", 0, "wall clock in milliseconds")
	cmd.Flags().Uint64Var(&opts.Index, "index", 0, "iteration index")
	cmd.Flags().StringVar(&opts.Position, "position", "", "canvas position as x,y")
	cmd.Flags().StringVar(&opts.Footprint, "footprint", "", "render footprint as WIDTHxHEIGHT")
	cmd.Flags().IntVar(&opts.Repeat, "repeat", 1, "evaluate this many times")

	return cmd
}

func runDocument(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newOutput(opts.RootOptions, cmd)

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	ectx, err := buildContext(opts, cmd)
	if err != nil {
		_ = formatter.Error(ErrCodeBadRequest, err.Error(), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", ErrCodeBadRequest, err.Error()))
	}
	if opts.Repeat < 1 {
		msg := fmt.Sprintf("--repeat must be at least 1, got %d", opts.Repeat)
		_ = formatter.Error(ErrCodeBadRequest, msg, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", ErrCodeBadRequest, msg))
	}

	sessOpts := []engine.Option{engine.WithLogger(logger)}
	if opts.IDGenerator != nil {
		sessOpts = append(sessOpts, engine.WithIDGenerator(opts.IDGenerator))
	}

	// Open journal if requested
	if opts.Database != "" {
		logger.Info("opening journal", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		sessOpts = append(sessOpts, engine.WithJournal(st))
	}

	// Setup signal handling so Ctrl-C stops a repeated evaluation.
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	h, _, err := loadAndApply(ctx, path, sessOpts...)
	if err != nil {
		return outputCompileFailure(formatter, err)
	}
	defer h.Stop()

	res, err := h.Session.Compile()
	if err != nil {
		return outputCompileFailure(formatter, err)
	}
	if res.Update.Root.IsZero() {
		msg := "document export did not resolve; run trellis compile for diagnostics"
		_ = formatter.Error(ErrCodeEvaluate, msg, res.Diagnostics)
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", ErrCodeEvaluate, msg))
	}

	var out ir.Value
	for i := 0; i < opts.Repeat; i++ {
		if err := ctx.Err(); err != nil {
			return WrapExitError(ExitFailure, "evaluation interrupted", err)
		}
		out, err = h.Session.Evaluate(ectx)
		if err != nil {
			_ = formatter.Error(ErrCodeEvaluate, err.Error(), nil)
			return WrapExitError(ExitFailure, "evaluation failed", err)
		}
		logger.Debug("evaluated", "doc", h.Session.Doc(), "pass", i+1)
	}

	if formatter.Format == "json" {
		valueJSON, err := ir.MarshalValue(out)
		if err != nil {
			return WrapExitError(ExitFailure, "encoding result", err)
		}
		result := RunResult{
			Document: h.Session.Doc(),
			Root:     res.Update.Root,
			Revision: res.Update.Revision,
			Value:    valueJSON,
		}
		if opts.Repeat > 1 {
			result.Repeats = opts.Repeat
		}
		return formatter.Success(result)
	}

	// Text format prints the bare value so runs compose with shell
	// pipelines.
	fmt.Fprintln(formatter.Writer, displayIRValue(out))
	return nil
}

// buildContext assembles the evaluation context from the flags the
// invocation actually set.
func buildContext(opts *RunOptions, cmd *cobra.Command) (ir.Context, error) {
	ectx := ir.Context{}
	flags := cmd.Flags()

	if flags.Changed("anim-time") {
		ectx = ectx.WithAnimationTime(opts.AnimTime)
	}
	if flags.Changed("real-time") {
		ectx = ectx.WithRealTime(opts.RealTime)
	}
	if flags.Changed("index") {
		ectx = ectx.WithIndex(opts.Index)
	}
	if opts.Position != "" {
		p, err := parseVec2(opts.Position)
		if err != nil {
			return ir.Context{}, fmt.Errorf("invalid --position: %v", err)
		}
		ectx = ectx.WithPosition(p)
	}
	if opts.Footprint != "" {
		w, h, err := parseFootprint(opts.Footprint)
		if err != nil {
			return ir.Context{}, fmt.Errorf("invalid --footprint: %v", err)
		}
		ectx = ectx.WithFootprint(ir.IdentityFootprint(w, h))
	}

	return ectx, nil
}

// parseVec2 parses "x,y" into a vector.
func parseVec2(s string) (ir.Vec2, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return ir.Vec2{}, fmt.Errorf("expected x,y, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return ir.Vec2{}, fmt.Errorf("x is not a number: %q", parts[0])
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return ir.Vec2{}, fmt.Errorf("y is not a number: %q", parts[1])
	}
	return ir.Vec2{X: x, Y: y}, nil
}

// parseFootprint parses "WIDTHxHEIGHT" into pixel dimensions.
func parseFootprint(s string) (uint32, uint32, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected WIDTHxHEIGHT, got %q", s)
	}
	w, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("width is not a number: %q", parts[0])
	}
	h, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("height is not a number: %q", parts[1])
	}
	return uint32(w), uint32(h), nil
}
