package registry

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"
)

//go:embed catalog.cue
var builtinCatalog string

// Registry is an immutable set of node definitions keyed by identifier.
type Registry struct {
	defs map[string]Definition
}

// New assembles a registry from parsed specs and their evaluators. Every
// spec must have exactly one evaluator and vice versa. All problems are
// collected; on any problem the registry is nil.
func New(specs []NodeSpec, evals map[string]EvalFunc) (*Registry, []error) {
	var errs []error
	defs := make(map[string]Definition, len(specs))

	for _, spec := range specs {
		if err := validateSpec(spec); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := defs[spec.Identifier]; dup {
			errs = append(errs, &CatalogError{
				Field:   "node." + spec.Identifier,
				Message: "duplicate definition",
				Pos:     spec.Pos,
			})
			continue
		}
		eval, ok := evals[spec.Identifier]
		if !ok {
			errs = append(errs, &CatalogError{
				Field:   "node." + spec.Identifier,
				Message: "no evaluator bound for this identifier",
				Pos:     spec.Pos,
			})
			continue
		}
		defs[spec.Identifier] = Definition{NodeSpec: spec, Eval: eval}
	}

	// Evaluators without a catalog entry are as much a wiring mistake as
	// the reverse. Report them in a stable order.
	var orphans []string
	for identifier := range evals {
		if _, ok := defs[identifier]; !ok {
			orphans = append(orphans, identifier)
		}
	}
	sort.Strings(orphans)
	for _, identifier := range orphans {
		if specListed(specs, identifier) {
			continue // already reported against the spec above
		}
		errs = append(errs, &CatalogError{
			Field:   "node." + identifier,
			Message: "evaluator has no catalog entry",
		})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &Registry{defs: defs}, nil
}

func specListed(specs []NodeSpec, identifier string) bool {
	for _, s := range specs {
		if s.Identifier == identifier {
			return true
		}
	}
	return false
}

// validateSpec checks the semantic rules a parsed spec must satisfy.
func validateSpec(spec NodeSpec) error {
	field := "node." + spec.Identifier
	if spec.Identifier == "" {
		return &CatalogError{Field: "node", Message: "empty identifier", Pos: spec.Pos}
	}
	if !ValidType(spec.Output) {
		return &CatalogError{
			Field:   field + ".output",
			Message: fmt.Sprintf("unknown type %q", spec.Output),
			Pos:     spec.Pos,
		}
	}
	seen := make(map[string]bool, len(spec.Inputs))
	for i, in := range spec.Inputs {
		if in.Name == "" {
			return &CatalogError{
				Field:   fmt.Sprintf("%s.inputs[%d]", field, i),
				Message: "input name is required",
				Pos:     spec.Pos,
			}
		}
		if seen[in.Name] {
			return &CatalogError{
				Field:   fmt.Sprintf("%s.inputs[%d]", field, i),
				Message: fmt.Sprintf("duplicate input name %q", in.Name),
				Pos:     spec.Pos,
			}
		}
		seen[in.Name] = true
		if !ValidType(in.Type) {
			return &CatalogError{
				Field:   fmt.Sprintf("%s.inputs[%d]", field, i),
				Message: fmt.Sprintf("unknown type %q", in.Type),
				Pos:     spec.Pos,
			}
		}
	}
	if spec.Identifier == NullifyIdentifier && spec.Arity() != 2 {
		return &CatalogError{
			Field:   field,
			Message: "nullify must take exactly a source and a keep mask",
			Pos:     spec.Pos,
		}
	}
	return nil
}

// Lookup returns the definition for an identifier.
func (r *Registry) Lookup(identifier string) (Definition, bool) {
	def, ok := r.defs[identifier]
	return def, ok
}

// Identifiers returns every registered identifier, sorted.
func (r *Registry) Identifiers() []string {
	out := make([]string, 0, len(r.defs))
	for identifier := range r.defs {
		out = append(out, identifier)
	}
	sort.Strings(out)
	return out
}

// Len is the number of registered definitions.
func (r *Registry) Len() int { return len(r.defs) }

var builtinOnce = sync.OnceValues(func() (*Registry, error) {
	specs, errs := ParseCatalogSource(builtinCatalog, "catalog.cue")
	if len(errs) > 0 {
		return nil, errs[0]
	}
	reg, errs := New(specs, builtinEvaluators())
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return reg, nil
})

// Builtin returns the registry assembled from the embedded catalog. The
// embedded catalog is fixed at build time, so a failure here is a
// programming error and panics.
func Builtin() *Registry {
	reg, err := builtinOnce()
	if err != nil {
		panic(fmt.Sprintf("registry: builtin catalog: %v", err))
	}
	return reg
}
