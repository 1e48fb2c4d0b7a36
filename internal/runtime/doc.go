// Package runtime executes compiled node graphs: the borrow tree of live
// protonodes, pull-based evaluation with per-node memoization, and the
// process-wide result cache.
//
// The tree mirrors the compiler's protonode table one to one, mutated
// only by applying the updates compilation emits. Apply is the sole
// writer and holds the write lock; evaluations hold the read lock and run
// concurrently. Because inserted nullifiers restrict the context they
// pass upstream and roots restrict to their recorded demand on entry,
// cache keys (identity, context hash) never vary with features a subtree
// ignores, which is the property that makes the cache effective across
// edits, frames and documents.
package runtime
