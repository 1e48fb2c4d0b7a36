package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/trellisdev/trellis/internal/engine"
	"github.com/trellisdev/trellis/internal/ir"
	"github.com/trellisdev/trellis/internal/store"
)

// ReplayOptions holds the replay command flags.
type ReplayOptions struct {
	*RootOptions
	Database string
	Doc      string // restrict the replay to one document
}

// ReplayDocResult reports one document's rebuild.
type ReplayDocResult struct {
	Doc           string `json:"doc"`
	Mutations     int    `json:"mutations"`
	Nodes         int    `json:"nodes"`
	Root          ir.SNI `json:"root"`
	Revision      int64  `json:"revision"`
	Deterministic bool   `json:"deterministic"`
}

// ReplayResult is the JSON payload of a replay run.
type ReplayResult struct {
	Docs             []ReplayDocResult `json:"docs"`
	TotalDocs        int               `json:"total_docs"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand builds the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the journal and verify determinism",
		Long: `Rebuild documents from a SQLite journal and verify determinism.

Every journaled mutation re-applies in seq order onto a fresh session,
the rebuilt document compiles from scratch, and the whole rebuild runs
twice. Identical compiled updates mean the journal replays
deterministically; any divergence fails the command with exit 1.

Examples:
  trellis replay --db ./trellis.db
  trellis replay --db ./trellis.db --doc demo
  trellis replay --db ./trellis.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	cmd.Flags().StringVar(&opts.Doc, "doc", "", "replay only this document")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.Database))
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	docs, err := st.Docs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list documents", err)
	}
	if opts.Doc != "" {
		if !slices.Contains(docs, opts.Doc) {
			return NewExitError(ExitCommandError, fmt.Sprintf("document %q not found in journal", opts.Doc))
		}
		docs = []string{opts.Doc}
	}
	if len(docs) == 0 {
		if opts.Format == "json" {
			return emitReplayResult(cmd, ReplayResult{Docs: []ReplayDocResult{}, AllDeterministic: true})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No documents found in journal.")
		return nil
	}

	result := ReplayResult{
		Docs:             make([]ReplayDocResult, 0, len(docs)),
		TotalDocs:        len(docs),
		AllDeterministic: true,
	}
	for _, doc := range docs {
		dr, err := verifyDoc(ctx, st, doc)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay document %s", doc), err)
		}
		result.Docs = append(result.Docs, dr)
		result.AllDeterministic = result.AllDeterministic && dr.Deterministic
	}

	if opts.Format == "json" {
		return emitReplayResult(cmd, result)
	}
	return printReplayResult(cmd.OutOrStdout(), result, opts.Verbose)
}

// verifyDoc rebuilds one document twice from its journal and flags the
// replay deterministic when both rebuilds compile to the same update.
func verifyDoc(ctx context.Context, st *store.Store, doc string) (ReplayDocResult, error) {
	muts, err := st.ReadDoc(ctx, doc)
	if err != nil {
		return ReplayDocResult{}, err
	}

	first, firstUpdate, err := rebuildOnce(ctx, st, doc)
	if err != nil {
		return ReplayDocResult{}, fmt.Errorf("first replay failed: %w", err)
	}
	_, secondUpdate, err := rebuildOnce(ctx, st, doc)
	if err != nil {
		return ReplayDocResult{}, fmt.Errorf("second replay failed: %w", err)
	}

	first.Mutations = len(muts)
	first.Deterministic = bytes.Equal(firstUpdate, secondUpdate)
	return first, nil
}

// rebuildOnce replays the journal into a fresh session, compiles and
// returns the stats plus the compiled update bytes.
func rebuildOnce(ctx context.Context, st *store.Store, doc string) (ReplayDocResult, []byte, error) {
	s, err := engine.Replay(ctx, st, doc)
	if err != nil {
		return ReplayDocResult{}, nil, err
	}

	h := startLoop(ctx, s)
	defer h.Stop()

	res, err := h.Session.Compile()
	if err != nil {
		return ReplayDocResult{}, nil, fmt.Errorf("compile after replay: %w", err)
	}
	update, err := json.Marshal(res.Update)
	if err != nil {
		return ReplayDocResult{}, nil, fmt.Errorf("encode update: %w", err)
	}

	return ReplayDocResult{
		Doc:      doc,
		Nodes:    h.Session.Host().Runtime().Len(),
		Root:     res.Update.Root,
		Revision: res.Update.Revision,
	}, update, nil
}

// emitReplayResult writes the JSON envelope. A non-deterministic replay
// also flips the process exit code to 1.
func emitReplayResult(cmd *cobra.Command, result ReplayResult) error {
	resp := CLIResponse{Status: "ok", Data: result}
	if !result.AllDeterministic {
		resp.Status = "error"
		resp.Error = &CLIError{Code: "E_DETERMINISM", Message: "determinism verification failed"}
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

func printReplayResult(w io.Writer, result ReplayResult, verbose bool) error {
	fmt.Fprintf(w, "Replay Summary: %d document(s)\n\n", result.TotalDocs)

	for _, doc := range result.Docs {
		printDocReplay(w, doc, verbose)
	}

	if !result.AllDeterministic {
		fmt.Fprintln(w, "✗ Determinism verification failed")
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	fmt.Fprintln(w, "✓ All documents replayed deterministically")
	return nil
}

func printDocReplay(w io.Writer, doc ReplayDocResult, verbose bool) {
	mark := "✓"
	if !doc.Deterministic {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s Document: %s\n", mark, doc.Doc)

	if verbose {
		root := "unresolved"
		if !doc.Root.IsZero() {
			root = doc.Root.String()
		}
		fmt.Fprintf(w, "  Mutations: %d\n", doc.Mutations)
		fmt.Fprintf(w, "  Live nodes: %d\n", doc.Nodes)
		fmt.Fprintf(w, "  Root: %s\n", root)
		fmt.Fprintf(w, "  Revision: %d\n", doc.Revision)
	} else {
		fmt.Fprintf(w, "  %d mutation(s), %d live node(s)\n", doc.Mutations, doc.Nodes)
	}

	if !doc.Deterministic {
		fmt.Fprintln(w, "  Warning: non-deterministic replay detected!")
	}
	fmt.Fprintln(w)
}
