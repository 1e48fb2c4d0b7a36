package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trellisdev/trellis/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Database string
	Doc      string
	Node     string
	Kind     string
	Since    int64
	Until    int64
	Limit    int
}

// MutationRecord is one journal row shaped for output.
type MutationRecord struct {
	Seq      int64           `json:"seq"`
	Doc      string          `json:"doc"`
	Kind     string          `json:"kind"`
	Node     string          `json:"node,omitempty"`
	Port     *int            `json:"port,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Previous json.RawMessage `json:"previous,omitempty"`
	Rev      int64           `json:"rev"`
}

// LogResult holds the selected journal rows.
type LogResult struct {
	Mutations []MutationRecord `json:"mutations"`
	Total     int              `json:"total"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Query the mutation journal",
		Long: `Query mutations from a SQLite journal written by "trellis run --db".

Rows come back in seq order with the document id as tiebreaker, so the
same query always prints the same timeline.

Examples:
  trellis log --db ./trellis.db
  trellis log --db ./trellis.db --doc demo --kind set_input
  trellis log --db ./trellis.db --node add1 --since 3 --limit 10`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	cmd.Flags().StringVar(&opts.Doc, "doc", "", "restrict to one document")
	cmd.Flags().StringVar(&opts.Node, "node", "", "restrict to mutations targeting one node")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "restrict to one mutation kind")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "keep rows with seq greater than this")
	cmd.Flags().Int64Var(&opts.Until, "until", 0, "keep rows with seq up to this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "cap the number of rows (0 = no cap)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	formatter := newOutput(opts.RootOptions, cmd)

	// Stat before Open: the sqlite driver would happily create an empty
	// journal at a mistyped path.
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		msg := fmt.Sprintf("journal not found: %s", opts.Database)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", ErrCodeNotFound, msg))
	}

	if opts.Kind != "" && !store.ValidKind(store.Kind(opts.Kind)) {
		msg := fmt.Sprintf("invalid kind %q: must be one of [add_node remove_node set_input set_export undo redo]", opts.Kind)
		_ = formatter.Error(ErrCodeBadRequest, msg, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", ErrCodeBadRequest, msg))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	muts, err := st.Select(cmd.Context(), store.Filter{
		Doc:      opts.Doc,
		Node:     opts.Node,
		Kind:     store.Kind(opts.Kind),
		SinceSeq: opts.Since,
		UntilSeq: opts.Until,
		Limit:    opts.Limit,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitFailure, "querying journal", err)
	}

	result := LogResult{
		Mutations: make([]MutationRecord, 0, len(muts)),
		Total:     len(muts),
	}
	for _, m := range muts {
		result.Mutations = append(result.Mutations, toMutationRecord(m))
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	return outputLogText(formatter, result)
}

func toMutationRecord(m store.Mutation) MutationRecord {
	rec := MutationRecord{
		Seq:      m.Seq,
		Doc:      m.Doc,
		Kind:     string(m.Kind),
		Node:     m.Node,
		Payload:  json.RawMessage(m.Payload),
		Previous: json.RawMessage(m.Previous),
		Rev:      m.Rev,
	}
	if m.Port >= 0 {
		port := m.Port
		rec.Port = &port
	}
	return rec
}

func outputLogText(formatter *OutputFormatter, result LogResult) error {
	w := formatter.Writer

	if result.Total == 0 {
		fmt.Fprintln(w, "No mutations found.")
		return nil
	}

	for _, rec := range result.Mutations {
		fmt.Fprintf(w, "[%4d] %-11s doc=%s", rec.Seq, rec.Kind, rec.Doc)
		if rec.Node != "" {
			fmt.Fprintf(w, " node=%s", rec.Node)
		}
		if rec.Port != nil {
			fmt.Fprintf(w, " port=%d", *rec.Port)
		}
		if len(rec.Payload) > 0 {
			fmt.Fprintf(w, " payload=%s", rec.Payload)
		}
		if formatter.Verbose && len(rec.Previous) > 0 {
			fmt.Fprintf(w, " previous=%s", rec.Previous)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\n%d mutation(s)\n", result.Total)
	return nil
}
