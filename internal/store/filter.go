package store

import (
	"context"
	"fmt"
	"strings"
)

// Filter narrows a journal query. Zero-valued fields are ignored, so an
// empty Filter selects the whole journal.
//
// CRITICAL: all values are parameterized (never interpolated), and every
// compiled query carries an ORDER BY with a deterministic tiebreaker so
// results are stable across runs.
type Filter struct {
	// Doc restricts to one document.
	Doc string

	// Node restricts to mutations targeting one node.
	Node string

	// Kind restricts to one mutation kind.
	Kind Kind

	// SinceSeq keeps rows with seq > SinceSeq.
	SinceSeq int64

	// UntilSeq keeps rows with seq <= UntilSeq.
	UntilSeq int64

	// Limit caps the number of rows returned. Zero means no cap.
	Limit int
}

// SQL compiles the filter to a parameterized query.
func (f Filter) SQL() (string, []any) {
	var conds []string
	var params []any

	if f.Doc != "" {
		conds = append(conds, "doc_id = ?")
		params = append(params, f.Doc)
	}
	if f.Node != "" {
		conds = append(conds, "node_id = ?")
		params = append(params, f.Node)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		params = append(params, string(f.Kind))
	}
	if f.SinceSeq > 0 {
		conds = append(conds, "seq > ?")
		params = append(params, f.SinceSeq)
	}
	if f.UntilSeq > 0 {
		conds = append(conds, "seq <= ?")
		params = append(params, f.UntilSeq)
	}

	sql := "SELECT seq, doc_id, kind, node_id, port, payload, previous, rev FROM mutations"
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}

	// MANDATORY: deterministic ordering. seq alone is only unique within a
	// document, so the doc id breaks ties for cross-document queries.
	sql += " ORDER BY seq ASC, doc_id COLLATE BINARY ASC"

	if f.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, f.Limit)
	}

	return sql, params
}

// Select returns the mutations matching the filter.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Select(ctx context.Context, f Filter) ([]Mutation, error) {
	query, params := f.SQL()

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("select mutations: %w", err)
	}
	defer rows.Close()

	var muts []Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		muts = append(muts, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}

	if muts == nil {
		muts = []Mutation{}
	}

	return muts, nil
}
