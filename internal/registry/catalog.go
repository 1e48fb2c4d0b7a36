package registry

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/trellisdev/trellis/internal/ir"
)

// CatalogError is a catalog problem with source position when the catalog
// came from CUE.
type CatalogError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CatalogError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ParseCatalogSource compiles CUE source and parses it as a catalog.
// filename is used for error positions only.
func ParseCatalogSource(src, filename string) ([]NodeSpec, []error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return ParseCatalog(v)
}

// ParseCatalog extracts node specs from a CUE value holding a catalog
// (a top-level "node" struct keyed by identifier). All problems are
// collected rather than stopping at the first.
func ParseCatalog(v cue.Value) ([]NodeSpec, []error) {
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	nodesVal := v.LookupPath(cue.ParsePath("node"))
	if !nodesVal.Exists() {
		return nil, []error{&CatalogError{
			Field:   "node",
			Message: "no node definitions found",
			Pos:     v.Pos(),
		}}
	}

	iter, err := nodesVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var specs []NodeSpec
	var errs []error
	for iter.Next() {
		spec, specErr := parseNodeSpec(iter.Label(), iter.Value())
		if specErr != nil {
			errs = append(errs, specErr)
			continue
		}
		specs = append(specs, spec)
	}
	return specs, errs
}

// parseNodeSpec parses one catalog entry. Structural problems (missing or
// mistyped fields, unknown feature names) are reported here; type-name
// semantics are checked when the Registry is assembled.
func parseNodeSpec(identifier string, v cue.Value) (NodeSpec, error) {
	spec := NodeSpec{
		Identifier: identifier,
		Pos:        v.Pos(),
	}

	docVal := v.LookupPath(cue.ParsePath("doc"))
	if docVal.Exists() {
		doc, err := docVal.String()
		if err != nil {
			return spec, formatCUEError(err)
		}
		spec.Doc = doc
	}

	outputVal := v.LookupPath(cue.ParsePath("output"))
	if !outputVal.Exists() {
		return spec, &CatalogError{
			Field:   fmt.Sprintf("node.%s.output", identifier),
			Message: "output type is required",
			Pos:     v.Pos(),
		}
	}
	output, err := outputVal.String()
	if err != nil {
		return spec, formatCUEError(err)
	}
	spec.Output = output

	inputsVal := v.LookupPath(cue.ParsePath("inputs"))
	if !inputsVal.Exists() {
		return spec, &CatalogError{
			Field:   fmt.Sprintf("node.%s.inputs", identifier),
			Message: "inputs list is required (use [] for a source node)",
			Pos:     v.Pos(),
		}
	}
	inputIter, err := inputsVal.List()
	if err != nil {
		return spec, formatCUEError(err)
	}
	for inputIter.Next() {
		inVal := inputIter.Value()
		name, err := inVal.LookupPath(cue.ParsePath("name")).String()
		if err != nil {
			return spec, formatCUEError(err)
		}
		typ, err := inVal.LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			return spec, formatCUEError(err)
		}
		spec.Inputs = append(spec.Inputs, InputSpec{Name: name, Type: typ})
	}

	spec.Context.Extract, err = parseFeatureList(v, identifier, "extract")
	if err != nil {
		return spec, err
	}
	spec.Context.Inject, err = parseFeatureList(v, identifier, "inject")
	if err != nil {
		return spec, err
	}
	spec.Context.Modify, err = parseFeatureList(v, identifier, "modify")
	if err != nil {
		return spec, err
	}

	return spec, nil
}

// parseFeatureList reads an optional list of feature names into a set.
func parseFeatureList(v cue.Value, identifier, field string) (ir.FeatureSet, error) {
	listVal := v.LookupPath(cue.ParsePath(field))
	if !listVal.Exists() {
		return 0, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return 0, formatCUEError(err)
	}
	var names []string
	for iter.Next() {
		name, err := iter.Value().String()
		if err != nil {
			return 0, formatCUEError(err)
		}
		names = append(names, name)
	}
	set, err := ir.ParseFeatures(names)
	if err != nil {
		return 0, &CatalogError{
			Field:   fmt.Sprintf("node.%s.%s", identifier, field),
			Message: err.Error(),
			Pos:     listVal.Pos(),
		}
	}
	return set, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CatalogError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
