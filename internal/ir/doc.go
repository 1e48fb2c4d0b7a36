// Package ir defines the shared data model of the trellis compiler and
// runtime: constrained tagged values, RFC 8785 canonical JSON, stable node
// identities, evaluation contexts with feature sets, and the protonode
// update types the compiler emits and the borrow tree applies.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Determinism rules enforced here and relied on everywhere else:
//   - Values carry no floats and no nulls. Anything hashed or persisted
//     goes through MarshalCanonical, which sorts object keys by UTF-16
//     code units and never HTML-escapes.
//   - Stable node identities are SHA-256 with domain separation, truncated
//     big-endian to 64 bits. Identical logical subgraphs hash identically
//     anywhere, in any process, at any time.
//   - Contexts hash from the bit patterns of their populated fields, never
//     from a JSON rendering, which keeps float-valued evaluation
//     parameters out of the canonical JSON rules.
package ir
