// Package graph holds the abstract network: the mutable, user-facing
// document graph the editor manipulates and the compiler consumes.
//
// The network is deliberately dumb. Nodes carry a catalog type identifier,
// ordered input slots and an editor position; structure is the only thing
// validated at mutation time. Semantic checks (unknown types, arity,
// context satisfiability) belong to the compiler, and dangling connections
// are representable on purpose: the compiler defers such nodes instead of
// rejecting the edit.
//
// Every mutation returns what it displaced so callers can build reversible
// history records, and records invalidation origins (displaced identities)
// that the next compilation reads with Dirty and consumes with ClearDirty.
// Identity bookkeeping fields on Node and its slots are owned by the
// compiler and are zero for anything not yet resolved.
package graph
