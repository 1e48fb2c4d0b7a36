// Package engine implements document sessions over the graph compiler
// and the shared runtime.
//
// A Session owns one document: its node network, its undo and redo
// stacks, and its journal. Many sessions can attach to one Host, which
// carries the process-wide state they share: the catalog, the compiler's
// protonode table, and the runtime's borrow tree. Identical subtrees in
// different documents resolve to the same identities and are constructed
// and cached once.
//
// ARCHITECTURE:
//
// Single-Writer Request Loop:
// Each session processes all mutating requests in a single goroutine.
// This ensures:
// - Mutations, history pushes and journal appends happen in one total order
// - The journal replays to exactly the state the session saw
// - Compiles observe a quiescent network
//
// Request Processing Flow:
//  1. Public methods enqueue a request and block on a per-request reply
//  2. Session.Run() dequeues requests one at a time
//  3. Mutations apply to the network, push a history record, append to
//     the journal
//  4. Compile requests coalesce: pending mutations apply first, then one
//     compile answers every waiting compile caller
//  5. Cross-session compile-and-apply serializes on the host mutex
//
// Evaluations are the exception: they bypass the queue and read the
// runtime directly, so concurrent reads proceed while mutations queue.
//
// INVARIANTS:
//
// Logical Clock:
// Journal rows are stamped with a monotonic seq counter from Clock.Next().
// Never wall-clock timestamps; replay must not depend on when rows were
// written.
//
// Coalesced Compilation:
// A compile queued behind another compile would be obsolete before its
// caller saw it. The loop batches them: every caller gets the one result
// that reflects all mutations queued ahead of it.
package engine
