package store

import (
	"context"
	"fmt"
)

// Append inserts a mutation record into the journal.
// Uses ON CONFLICT(doc_id, seq) DO NOTHING for idempotency - a seq that was
// already journaled for the document is silently ignored and the original
// row wins. Returns whether a new row was actually written, so callers can
// tell a fresh append from a replayed one.
func (s *Store) Append(ctx context.Context, m Mutation) (inserted bool, err error) {
	if m.Doc == "" {
		return false, fmt.Errorf("append mutation: empty doc id")
	}
	if m.Seq <= 0 {
		return false, fmt.Errorf("append mutation: seq must be positive, got %d", m.Seq)
	}
	if !ValidKind(m.Kind) {
		return false, fmt.Errorf("append mutation: unknown kind %q", m.Kind)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO mutations
		(seq, doc_id, kind, node_id, port, payload, previous, rev)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, seq) DO NOTHING
	`,
		m.Seq,
		m.Doc,
		string(m.Kind),
		m.Node,
		m.Port,
		string(m.Payload),
		string(m.Previous),
		m.Rev,
	)
	if err != nil {
		return false, fmt.Errorf("append mutation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append mutation: rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
