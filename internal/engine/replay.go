package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/store"
)

// Replay reconstructs a session from a document's journal.
//
// Every journaled mutation re-applies through the same handlers a live
// session uses, so the rebuilt network, history stacks and export match
// the state at the last append. The clock resumes past the highest
// journaled seq and the journal stays attached, so the session keeps
// appending where it left off.
//
// The returned session has not been compiled. Call Run and Compile as for
// a fresh session.
func Replay(ctx context.Context, st *store.Store, doc string, opts ...Option) (*Session, error) {
	muts, err := st.ReadDoc(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("read journal for %s: %w", doc, err)
	}
	last, err := st.LastSeq(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("resume clock for %s: %w", doc, err)
	}

	// Appended last so they override caller-supplied clock or journal.
	opts = append(opts, WithJournal(st), WithClock(NewClockAt(last)))
	s := New(doc, opts...)

	s.replaying = true
	defer func() { s.replaying = false }()

	for _, m := range muts {
		if err := s.replayMutation(ctx, m); err != nil {
			return nil, fmt.Errorf("replay %s seq %d (%s): %w", doc, m.Seq, m.Kind, err)
		}
	}

	return s, nil
}

// replayMutation re-applies one journal row through the normal appliers.
// Runs before the session loop starts, so no queue round trip is needed.
func (s *Session) replayMutation(ctx context.Context, m store.Mutation) error {
	switch m.Kind {
	case store.KindAddNode:
		var p addPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return fmt.Errorf("decode add payload: %w", err)
		}
		_, err := s.applyAddNode(ctx, graph.NodeID(m.Node), p.Type, p.Pos)
		return err

	case store.KindRemoveNode:
		return s.applyRemoveNode(ctx, graph.NodeID(m.Node))

	case store.KindSetInput:
		in, err := graph.UnmarshalInput(m.Payload)
		if err != nil {
			return fmt.Errorf("decode input payload: %w", err)
		}
		_, err = s.applySetInput(ctx, graph.NodeID(m.Node), m.Port, in)
		return err

	case store.KindSetExport:
		return s.applySetExport(ctx, graph.NodeID(m.Node))

	case store.KindUndo:
		return s.applyUndo(ctx)

	case store.KindRedo:
		return s.applyRedo(ctx)

	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}
