package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/trellisdev/trellis/internal/compiler"
	"github.com/trellisdev/trellis/internal/graph"
	"github.com/trellisdev/trellis/internal/history"
	"github.com/trellisdev/trellis/internal/ir"
	"github.com/trellisdev/trellis/internal/registry"
	"github.com/trellisdev/trellis/internal/runtime"
	"github.com/trellisdev/trellis/internal/store"
)

// Session is the single-writer owner of one document.
//
// All mutation, history recording, journaling and compilation happen in
// the Run loop goroutine. External callers use the public methods, which
// enqueue a request and block for its reply.
//
// Thread-safety model:
//   - mutation methods, Compile, Undo, Redo, Inspect: safe from any
//     goroutine (queue round trip)
//   - Evaluate, EvaluateSerialized: safe from any goroutine, bypass the
//     queue and read the shared runtime directly
//   - Run(): must be called from exactly one goroutine
type Session struct {
	doc   string
	net   *graph.Network
	hist  *history.History
	host  *Host
	clock *Clock
	idGen IDGenerator
	queue *requestQueue
	log   *slog.Logger

	journal *store.Store

	// root is the export identity of the last successful compile, read
	// lock-free by evaluations.
	root atomic.Uint64

	// rev is the compiler revision observed at the last compile.
	rev atomic.Int64

	// replaying suppresses journaling while historical rows re-apply.
	replaying bool

	// staged by options, consumed once in New
	histLimit  int
	evalBudget int
	shards     int
	ambient    ir.FeatureSet
	ambientSet bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for session events and diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithJournal enables mutation journaling to the given store. Without it
// the session is in-memory only.
func WithJournal(st *store.Store) Option {
	return func(s *Session) { s.journal = st }
}

// WithIDGenerator overrides how AddNode mints node identifiers.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Session) { s.idGen = gen }
}

// WithClock overrides the journal clock. Replay uses this to resume the
// sequence where the journal left off.
func WithClock(c *Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithHost attaches the session to a shared host so documents deduplicate
// identical subtrees and share cached evaluations. Without it the session
// builds a private host over the builtin catalog.
func WithHost(h *Host) Option {
	return func(s *Session) { s.host = h }
}

// WithHistoryLimit caps the undo stack depth. Zero means unbounded.
func WithHistoryLimit(n int) Option {
	return func(s *Session) { s.histLimit = n }
}

// WithAmbientFeatures overrides the context features the caller promises
// to populate on every evaluation. Only consulted when the session builds
// its own host; a host passed via WithHost fixed this at construction.
func WithAmbientFeatures(fs ir.FeatureSet) Option {
	return func(s *Session) { s.ambient = fs; s.ambientSet = true }
}

// WithEvalBudget caps node visits per evaluation on a session-built host.
func WithEvalBudget(limit int) Option {
	return func(s *Session) { s.evalBudget = limit }
}

// WithCacheShards sets the evaluation cache shard count on a session-built
// host.
func WithCacheShards(n int) Option {
	return func(s *Session) { s.shards = n }
}

// New creates a session for the named document. The document starts
// empty; use Replay to reconstruct one from a journal.
func New(doc string, opts ...Option) *Session {
	s := &Session{
		doc:   doc,
		net:   graph.NewNetwork(),
		clock: NewClock(),
		idGen: UUIDv7Generator{},
		queue: newRequestQueue(),
		log:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.histLimit > 0 {
		s.hist = history.New(history.WithLimit(s.histLimit))
	} else {
		s.hist = history.New()
	}

	if s.host == nil {
		reg := registry.Builtin()
		var copts []compiler.Option
		if s.ambientSet {
			copts = append(copts, compiler.WithAmbientFeatures(s.ambient))
		}
		ropts := []runtime.Option{runtime.WithLogger(s.log)}
		if s.evalBudget > 0 {
			ropts = append(ropts, runtime.WithEvalBudget(s.evalBudget))
		}
		if s.shards > 0 {
			ropts = append(ropts, runtime.WithCacheShards(s.shards))
		}
		s.host = NewHost(reg, compiler.New(reg, copts...), runtime.New(reg, ropts...))
	}

	return s
}

// Doc returns the document identifier.
func (s *Session) Doc() string { return s.doc }

// Revision returns the compiler revision of the last successful compile.
func (s *Session) Revision() int64 { return s.rev.Load() }

// Host returns the host the session compiles against.
func (s *Session) Host() *Host { return s.host }

// Run starts the single-writer request loop.
// Blocks until the context is cancelled or Close() empties the queue.
//
// CRITICAL: Must be called from exactly ONE goroutine. Every document
// mutation, history push, journal append and compile happens here.
//
// Close() drains gracefully: requests already queued are still served.
// Context cancellation aborts instead, answering queued requests with
// ErrSessionClosed.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info("session starting", "doc", s.doc)

	for {
		// Try non-blocking dequeue first
		req, ok := s.queue.TryDequeue()
		if ok {
			s.dispatch(ctx, req)
			continue
		}

		// No request ready - wait for signal or context cancellation
		select {
		case <-ctx.Done():
			s.log.Info("session stopping", "doc", s.doc, "reason", "context cancelled")
			s.queue.Close()
			s.abortPending()
			return ctx.Err()

		case <-s.queue.Wait():
			// A signal can outlive the request that produced it, so an
			// empty queue here means shutdown only once Close has run.
			if s.queue.Closed() && s.queue.Len() == 0 {
				s.log.Info("session stopping", "doc", s.doc, "reason", "closed")
				return nil
			}
		}
	}
}

// Close stops the session. Requests already queued are still served;
// later ones fail with ErrSessionClosed.
func (s *Session) Close() {
	s.queue.Close()
}

// abortPending answers every request still queued after an abort.
func (s *Session) abortPending() {
	for {
		req, ok := s.queue.TryDequeue()
		if !ok {
			return
		}
		req.reply <- reply{err: ErrSessionClosed}
	}
}

func (s *Session) dispatch(ctx context.Context, req request) {
	if req.kind == reqCompile {
		s.handleCompile(ctx, req)
		return
	}
	req.reply <- s.handle(ctx, req)
}

func (s *Session) handle(ctx context.Context, req request) reply {
	switch req.kind {
	case reqAddNode:
		id, err := s.applyAddNode(ctx, req.id, req.nodeType, req.pos)
		return reply{id: id, err: err}
	case reqRemoveNode:
		return reply{err: s.applyRemoveNode(ctx, req.id)}
	case reqSetInput:
		prev, err := s.applySetInput(ctx, req.id, req.port, req.input)
		return reply{prev: prev, err: err}
	case reqSetExport:
		return reply{err: s.applySetExport(ctx, req.id)}
	case reqUndo:
		return reply{err: s.applyUndo(ctx)}
	case reqRedo:
		return reply{err: s.applyRedo(ctx)}
	case reqInspect:
		rep, err := s.inspect(req.id)
		return reply{report: rep, err: err}
	case reqRebuild:
		res, err := s.rebuild()
		return reply{result: res, err: err}
	default:
		return reply{err: fmt.Errorf("unknown request kind: %d", req.kind)}
	}
}

// handleCompile coalesces compile requests. A compile queued behind this
// one would obsolete its result before the caller saw it, so the loop
// first applies every other pending request in arrival order, then runs
// one compile and answers all collected compile requests with it.
func (s *Session) handleCompile(ctx context.Context, req request) {
	waiting := []request{req}
	for {
		next, ok := s.queue.TryDequeue()
		if !ok {
			break
		}
		if next.kind == reqCompile {
			waiting = append(waiting, next)
			continue
		}
		next.reply <- s.handle(ctx, next)
	}

	res, err := s.compileApply()
	for _, w := range waiting {
		w.reply <- reply{result: res, err: err}
	}
}

// compileApply compiles the document and forwards the diff to the shared
// runtime. On MISSING_UPSTREAM the borrow tree no longer matches the
// protonode table, so the session discards both and rebuilds from scratch
// rather than surfacing the corruption to the caller.
func (s *Session) compileApply() (*compiler.Result, error) {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()

	res, err := s.host.comp.Compile(s.net)
	if err != nil {
		return nil, err
	}

	if err := s.host.rt.Apply(res.Update); err != nil {
		if !runtime.IsMissingUpstreamError(err) {
			return nil, err
		}
		s.log.Warn("runtime rejected update, rebuilding",
			"doc", s.doc,
			"error", err,
		)
		res, err = s.rebuildLocked()
		if err != nil {
			return nil, err
		}
	}

	s.finishCompile(res)
	return res, nil
}

// rebuildLocked drops the shared protonode table and the borrow tree and
// recompiles this session's document from scratch. Caller holds host.mu.
// Sibling documents on the host lose their live trees and rebuild the
// same way on their next compile.
func (s *Session) rebuildLocked() (*compiler.Result, error) {
	res, err := s.host.comp.Rebuild(s.net)
	if err != nil {
		return nil, err
	}
	s.host.rt.Reset()
	if err := s.host.rt.Apply(res.Update); err != nil {
		return nil, fmt.Errorf("apply rebuilt tree: %w", err)
	}
	return res, nil
}

func (s *Session) rebuild() (*compiler.Result, error) {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()

	res, err := s.rebuildLocked()
	if err != nil {
		return nil, err
	}
	s.finishCompile(res)
	return res, nil
}

func (s *Session) finishCompile(res *compiler.Result) {
	s.root.Store(uint64(res.Update.Root))
	s.rev.Store(res.Update.Revision)

	for _, d := range res.Diagnostics {
		s.log.Debug("compile diagnostic",
			"doc", s.doc,
			"code", string(d.Code),
			"node", string(d.Node),
			"port", d.Port,
		)
	}

	added, deduplicated, removed := res.Update.Counts()
	s.log.Info("compiled",
		"doc", s.doc,
		"revision", res.Update.Revision,
		"root", res.Update.Root.String(),
		"added", added,
		"deduplicated", deduplicated,
		"removed", removed,
	)
}

// addPayload is the journaled description of an added node.
type addPayload struct {
	Type string         `json:"type"`
	Pos  graph.Position `json:"pos"`
}

func (s *Session) applyAddNode(ctx context.Context, id graph.NodeID, nodeType string, pos graph.Position) (graph.NodeID, error) {
	def, ok := s.host.reg.Lookup(nodeType)
	if !ok {
		return "", &UnknownTypeError{Type: nodeType}
	}
	if id == "" {
		id = s.idGen.Generate()
	}

	if err := s.net.Add(graph.NewNode(id, nodeType, def.Arity(), pos)); err != nil {
		return "", err
	}
	s.hist.Push(history.NodeAdded{ID: id})

	payload, err := json.Marshal(addPayload{Type: nodeType, Pos: pos})
	if err != nil {
		s.log.Error("encode add payload", "doc", s.doc, "node", string(id), "error", err)
	} else {
		s.record(ctx, store.Mutation{Kind: store.KindAddNode, Node: string(id), Port: -1, Payload: payload})
	}

	s.log.Debug("node added", "doc", s.doc, "node", string(id), "type", nodeType)
	return id, nil
}

func (s *Session) applyRemoveNode(ctx context.Context, id graph.NodeID) error {
	removed, err := s.net.RemoveNode(id)
	if err != nil {
		return err
	}
	s.hist.Push(history.NodeRemoved{Removed: removed})
	s.record(ctx, store.Mutation{Kind: store.KindRemoveNode, Node: string(id), Port: -1})

	s.log.Debug("node removed", "doc", s.doc, "node", string(id))
	return nil
}

func (s *Session) applySetInput(ctx context.Context, id graph.NodeID, port int, in graph.Input) (graph.Input, error) {
	prev, err := s.net.SetInput(id, port, in)
	if err != nil {
		return nil, err
	}
	s.hist.Push(history.InputChanged{Node: id, Port: port, Previous: prev})

	payload, perr := graph.MarshalInput(in)
	previous, qerr := graph.MarshalInput(prev)
	if perr != nil || qerr != nil {
		s.log.Error("encode input payload", "doc", s.doc, "node", string(id), "port", port)
	} else {
		s.record(ctx, store.Mutation{Kind: store.KindSetInput, Node: string(id), Port: port, Payload: payload, Previous: previous})
	}

	s.log.Debug("input set", "doc", s.doc, "node", string(id), "port", port)
	return prev, nil
}

func (s *Session) applySetExport(ctx context.Context, id graph.NodeID) error {
	prev, err := s.net.SetExport(id)
	if err != nil {
		return err
	}
	s.hist.Push(history.ExportChanged{Previous: prev})
	s.record(ctx, store.Mutation{Kind: store.KindSetExport, Node: string(id), Port: -1, Previous: []byte(prev)})

	s.log.Debug("export changed", "doc", s.doc, "node", string(id), "previous", string(prev))
	return nil
}

func (s *Session) applyUndo(ctx context.Context) error {
	if err := s.hist.Undo(s.net); err != nil {
		return err
	}
	s.record(ctx, store.Mutation{Kind: store.KindUndo, Port: -1})

	s.log.Debug("undo applied", "doc", s.doc)
	return nil
}

func (s *Session) applyRedo(ctx context.Context) error {
	if err := s.hist.Redo(s.net); err != nil {
		return err
	}
	s.record(ctx, store.Mutation{Kind: store.KindRedo, Port: -1})

	s.log.Debug("redo applied", "doc", s.doc)
	return nil
}

// record journals one applied mutation. Failures are logged and the edit
// stands; the document is the source of truth, the journal is durability.
func (s *Session) record(ctx context.Context, m store.Mutation) {
	if s.journal == nil || s.replaying {
		return
	}

	m.Seq = s.clock.Next()
	m.Doc = s.doc
	m.Rev = s.rev.Load()

	if _, err := s.journal.Append(ctx, m); err != nil {
		s.log.Error("journal append failed",
			"doc", s.doc,
			"seq", m.Seq,
			"kind", string(m.Kind),
			"error", err,
		)
	}
}

func (s *Session) inspect(id graph.NodeID) (Report, error) {
	n, ok := s.net.Node(id)
	if !ok {
		return Report{}, &graph.NotFoundError{ID: id}
	}

	s.host.mu.Lock()
	usage := 0
	live := false
	if !n.AssignedSNI.IsZero() {
		usage = s.host.comp.Metadata().Usage(n.AssignedSNI)
		live = s.host.rt.Has(n.AssignedSNI)
	}
	demand := s.host.comp.Demand(s.net, id)
	s.host.mu.Unlock()

	return Report{
		Node:     n.ID,
		Type:     n.Type,
		SNI:      n.AssignedSNI,
		Resolved: !n.AssignedSNI.IsZero(),
		Usage:    usage,
		Demand:   demand.Names(),
		Live:     live,
	}, nil
}

// roundTrip enqueues a request and blocks for its reply.
func (s *Session) roundTrip(req request) reply {
	req.reply = make(chan reply, 1)
	if !s.queue.Enqueue(req) {
		return reply{err: ErrSessionClosed}
	}
	return <-req.reply
}

// AddNode inserts a node of the given catalog type and returns its minted
// identifier. The node starts with every input unset.
func (s *Session) AddNode(nodeType string, pos graph.Position) (graph.NodeID, error) {
	r := s.roundTrip(request{kind: reqAddNode, nodeType: nodeType, pos: pos, port: -1})
	return r.id, r.err
}

// AddNodeWithID inserts a node under a caller-chosen identifier. Document
// loaders and journal replay use this so cross-references stay valid.
func (s *Session) AddNodeWithID(id graph.NodeID, nodeType string, pos graph.Position) error {
	r := s.roundTrip(request{kind: reqAddNode, id: id, nodeType: nodeType, pos: pos, port: -1})
	return r.err
}

// RemoveNode deletes a node, detaching consumers that referenced it.
func (s *Session) RemoveNode(id graph.NodeID) error {
	r := s.roundTrip(request{kind: reqRemoveNode, id: id, port: -1})
	return r.err
}

// SetInput rewires one input slot and returns the displaced input.
func (s *Session) SetInput(id graph.NodeID, port int, in graph.Input) (graph.Input, error) {
	r := s.roundTrip(request{kind: reqSetInput, id: id, port: port, input: in})
	return r.prev, r.err
}

// SetExport marks the node whose output the document exposes.
func (s *Session) SetExport(id graph.NodeID) error {
	r := s.roundTrip(request{kind: reqSetExport, id: id, port: -1})
	return r.err
}

// Compile resolves the document against the shared protonode table and
// applies the resulting diff to the shared runtime.
//
// Compile requests queued behind other compile requests are coalesced:
// intervening mutations apply first, one compile runs, and every waiting
// caller receives that single result.
func (s *Session) Compile() (*compiler.Result, error) {
	r := s.roundTrip(request{kind: reqCompile, port: -1})
	return r.result, r.err
}

// Undo reverts the most recent mutation. The caller recompiles to bring
// the runtime in line.
func (s *Session) Undo() error {
	r := s.roundTrip(request{kind: reqUndo, port: -1})
	return r.err
}

// Redo re-applies the most recently undone mutation.
func (s *Session) Redo() error {
	r := s.roundTrip(request{kind: reqRedo, port: -1})
	return r.err
}

// Inspect reports a node's identity, usage and context demand.
func (s *Session) Inspect(id graph.NodeID) (Report, error) {
	r := s.roundTrip(request{kind: reqInspect, id: id, port: -1})
	return r.report, r.err
}

// Rebuild discards the shared tables and recompiles from scratch. Normal
// compiles invoke this automatically when the runtime reports a missing
// upstream; the public entry point exists for operators.
func (s *Session) Rebuild() (*compiler.Result, error) {
	r := s.roundTrip(request{kind: reqRebuild, port: -1})
	return r.result, r.err
}

// Evaluate pulls the compiled export under the given context. Reads run
// concurrently with each other and bypass the request queue entirely.
func (s *Session) Evaluate(ectx ir.Context) (ir.Value, error) {
	root := ir.SNI(s.root.Load())
	if root.IsZero() {
		return nil, ErrNotCompiled
	}
	return s.host.rt.Evaluate(root, ectx)
}

// EvaluateSerialized evaluates the export and renders the result as JSON.
func (s *Session) EvaluateSerialized(ectx ir.Context) ([]byte, error) {
	root := ir.SNI(s.root.Load())
	if root.IsZero() {
		return nil, ErrNotCompiled
	}
	return s.host.rt.EvaluateSerialized(root, ectx)
}
