// Package registry is the node catalog: the set of node types a document
// may reference, each with its input signature, its context dependencies
// and its evaluator.
//
// Catalog metadata lives in CUE. The builtin catalog is embedded in the
// binary and bound to Go evaluators at startup; additional catalogs can be
// parsed with ParseCatalog for validation tooling. The compiler consumes
// the metadata (arity for structural checks, context dependencies for
// demand analysis) and the runtime consumes the evaluators.
package registry
