package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ReadDoc returns every journaled mutation for a document in replay order.
// Results are ordered by seq ASC; seq is unique per document so the order
// is total.
//
// Returns an empty slice (not nil) if the document has no journal rows.
func (s *Store) ReadDoc(ctx context.Context, doc string) ([]Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, doc_id, kind, node_id, port, payload, previous, rev
		FROM mutations
		WHERE doc_id = ?
		ORDER BY seq ASC
	`, doc)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
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

	// Return empty slice instead of nil
	if muts == nil {
		muts = []Mutation{}
	}

	return muts, nil
}

// LastSeq returns the highest journaled seq for a document, or 0 if the
// document has no rows. A resuming session seeds its clock from this so
// fresh mutations continue the sequence without colliding.
func (s *Store) LastSeq(ctx context.Context, doc string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM mutations WHERE doc_id = ?
	`, doc).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// Docs returns the distinct document identifiers present in the journal,
// ordered deterministically.
func (s *Store) Docs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT doc_id FROM mutations
		ORDER BY doc_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query docs: %w", err)
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan doc id: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate docs: %w", err)
	}

	if docs == nil {
		docs = []string{}
	}

	return docs, nil
}

// scanMutation scans a row into a Mutation struct.
func scanMutation(rows *sql.Rows) (Mutation, error) {
	var m Mutation
	var kind, payload, previous string

	if err := rows.Scan(
		&m.Seq, &m.Doc, &kind, &m.Node, &m.Port, &payload, &previous, &m.Rev,
	); err != nil {
		return Mutation{}, fmt.Errorf("scan mutation: %w", err)
	}

	m.Kind = Kind(kind)
	if payload != "" {
		m.Payload = []byte(payload)
	}
	if previous != "" {
		m.Previous = []byte(previous)
	}

	return m, nil
}
