package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

// CompileModel parses a model document: an optional model name, the
// variant declarations and the seed list.
//
//	model: "counter"
//	variant: counter: {
//		depends_on: ["counter"]
//		match: self_below_limit: true
//		action: {kind: "increment", step: 0.1, limit: 1.0}
//	}
//	seed: [{variant: "counter", value: 0.0}]
func CompileModel(v cue.Value) (*ir.ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &ir.ModelSpec{}
	if nameVal := v.LookupPath(cue.ParsePath("model")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		m.Name = name
	}

	variantsVal := v.LookupPath(cue.ParsePath("variant"))
	if !variantsVal.Exists() {
		return nil, &CompileError{
			Field:   "variant",
			Message: "at least one variant is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := variantsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		spec, err := CompileVariant(iter.Value())
		if err != nil {
			return nil, err
		}
		m.Variants = append(m.Variants, *spec)
	}

	if seedsVal := v.LookupPath(cue.ParsePath("seed")); seedsVal.Exists() {
		seeds, err := seedsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for seeds.Next() {
			seed, err := CompileSeed(seeds.Value())
			if err != nil {
				return nil, err
			}
			m.Seeds = append(m.Seeds, seed)
		}
	}

	return m, nil
}

// CompileVariant parses one variant declaration. The variant name is the
// struct label:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`variant: price: { kind: "message" }`)
//	spec, err := CompileVariant(v.LookupPath(cue.ParsePath("variant.price")))
func CompileVariant(v cue.Value) (*ir.VariantSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.VariantSpec{Kind: ir.KindEntity, DependsOn: []string{}}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}
	if pos := v.Pos(); pos.IsValid() {
		spec.Line = pos.Line()
	}

	var err error
	if kind, ok, err := optionalString(v, "kind"); err != nil {
		return nil, err
	} else if ok {
		spec.Kind = ir.VariantKind(kind)
	}
	if spec.Description, _, err = optionalString(v, "description"); err != nil {
		return nil, err
	}
	if spec.Emit, _, err = optionalString(v, "emit"); err != nil {
		return nil, err
	}
	if spec.Spawn, _, err = optionalString(v, "spawn"); err != nil {
		return nil, err
	}

	if depsVal := v.LookupPath(cue.ParsePath("depends_on")); depsVal.Exists() {
		deps, err := depsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for deps.Next() {
			d, err := deps.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			spec.DependsOn = append(spec.DependsOn, d)
		}
	}

	if matchVal := v.LookupPath(cue.ParsePath("match")); matchVal.Exists() {
		spec.Match, err = parseMatch(matchVal)
		if err != nil {
			return nil, err
		}
	}

	if actionVal := v.LookupPath(cue.ParsePath("action")); actionVal.Exists() {
		spec.Action, err = parseAction(spec.Name, actionVal)
		if err != nil {
			return nil, err
		}
	}

	return spec, nil
}

// CompileSeed parses one seed entry: {variant: "counter", value: 0.0}.
// A missing value seeds null.
func CompileSeed(v cue.Value) (ir.SeedSpec, error) {
	if err := v.Err(); err != nil {
		return ir.SeedSpec{}, formatCUEError(err)
	}

	name, ok, err := optionalString(v, "variant")
	if err != nil {
		return ir.SeedSpec{}, err
	}
	if !ok {
		return ir.SeedSpec{}, &CompileError{
			Field:   "seed.variant",
			Message: "seed variant is required",
			Pos:     v.Pos(),
		}
	}

	seed := ir.SeedSpec{Variant: name, Value: ir.IRNull{}}
	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		return seed, nil
	}
	if err := valueVal.Validate(cue.Concrete(true)); err != nil {
		return ir.SeedSpec{}, formatCUEError(err)
	}
	data, err := valueVal.MarshalJSON()
	if err != nil {
		return ir.SeedSpec{}, formatCUEError(err)
	}
	seed.Value, err = ir.UnmarshalIRValue(data)
	if err != nil {
		return ir.SeedSpec{}, &CompileError{
			Field:   "seed.value",
			Message: err.Error(),
			Pos:     valueVal.Pos(),
		}
	}
	return seed, nil
}

func parseMatch(v cue.Value) (*ir.MatchSpec, error) {
	m := &ir.MatchSpec{}
	bounds := []struct {
		name string
		dst  **float64
	}{
		{"gte", &m.Gte},
		{"gt", &m.Gt},
		{"lte", &m.Lte},
		{"lt", &m.Lt},
	}
	for _, b := range bounds {
		f, ok, err := optionalFloat(v, b.name)
		if err != nil {
			return nil, err
		}
		if ok {
			*b.dst = &f
		}
	}

	if sbl := v.LookupPath(cue.ParsePath("self_below_limit")); sbl.Exists() {
		b, err := sbl.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		m.SelfBelowLimit = b
	}
	return m, nil
}

func parseAction(variant string, v cue.Value) (*ir.ActionSpec, error) {
	kind, ok, err := optionalString(v, "kind")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CompileError{
			Field:   fmt.Sprintf("variant.%s.action.kind", variant),
			Message: "action kind is required",
			Pos:     v.Pos(),
		}
	}

	a := &ir.ActionSpec{Kind: ir.ActionKind(kind)}
	if step, ok, err := optionalFloat(v, "step"); err != nil {
		return nil, err
	} else if ok {
		a.Step = step
	}
	if limit, ok, err := optionalFloat(v, "limit"); err != nil {
		return nil, err
	} else if ok {
		a.Limit = &limit
	}
	return a, nil
}

func optionalString(v cue.Value, field string) (string, bool, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", false, nil
	}
	s, err := f.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

func optionalFloat(v cue.Value, field string) (float64, bool, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return 0, false, nil
	}
	x, err := f.Float64()
	if err != nil {
		return 0, false, formatCUEError(err)
	}
	return x, true, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Report the first error with a position.
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
