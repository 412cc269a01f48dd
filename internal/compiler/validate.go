package compiler

import (
	"fmt"
	"regexp"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// VariantSpec errors (E101-E107)
	ErrInvalidVariantName  = "E101" // empty or malformed variant name
	ErrInvalidVariantKind  = "E102" // kind must be entity or message
	ErrMessageBehaviour    = "E103" // message variants cannot declare behaviour
	ErrInvalidAction       = "E104" // unknown action kind or bad parameters
	ErrDuplicateName       = "E105" // duplicate variant name
	ErrInvalidMatch        = "E106" // contradictory or unusable match bounds
	ErrDuplicateDependency = "E107" // variant listed twice in depends_on

	// ModelSpec errors (E108-E110)
	ErrUndefinedVariant = "E108" // reference to an undeclared variant
	ErrWrongOutputKind  = "E109" // emit must name a message, spawn an entity
	ErrInvalidSeed      = "E110" // seed cannot be built
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled IR against schema rules.
// Returns all errors found (does not fail-fast).
// Supports VariantSpec and ModelSpec types.
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.VariantSpec:
		return validateVariantSpec(spec)
	case ir.VariantSpec:
		return validateVariantSpec(&spec)
	case *ir.ModelSpec:
		return validateModelSpec(spec)
	case ir.ModelSpec:
		return validateModelSpec(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// variantNamePattern matches lower snake_case names: "price", "open_position".
var variantNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// validateVariantSpec checks one declaration in isolation.
func validateVariantSpec(spec *ir.VariantSpec) []ValidationError {
	var errs []ValidationError
	field := func(f string) string { return fmt.Sprintf("variant.%s.%s", spec.Name, f) }
	add := func(f, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   f,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
			Line:    spec.Line,
		})
	}

	// E101
	if !variantNamePattern.MatchString(spec.Name) {
		add("variant.name", ErrInvalidVariantName,
			"invalid variant name %q, expected lower snake_case", spec.Name)
	}

	// E102
	if !ir.ValidVariantKinds[spec.Kind] {
		add(field("kind"), ErrInvalidVariantKind,
			"invalid kind %q, must be \"entity\" or \"message\"", spec.Kind)
	}

	// E103: messages are routed, never handled
	if spec.Kind == ir.KindMessage {
		if len(spec.DependsOn) > 0 {
			add(field("depends_on"), ErrMessageBehaviour, "message variants cannot depend on other variants")
		}
		if spec.Match != nil || spec.Action != nil || spec.Emit != "" || spec.Spawn != "" {
			add(field("action"), ErrMessageBehaviour, "message variants cannot declare match, action, emit or spawn")
		}
	}

	// E104
	if a := spec.Action; a != nil {
		if !ir.ValidActions[a.Kind] {
			add(field("action.kind"), ErrInvalidAction, "unknown action kind %q", a.Kind)
		}
		if a.Kind == ir.ActionIncrement && a.Step == 0 {
			add(field("action.step"), ErrInvalidAction, "increment requires a non-zero step")
		}
		if a.Kind != ir.ActionIncrement && a.Step != 0 {
			add(field("action.step"), ErrInvalidAction, "step only applies to increment")
		}
		if a.Limit != nil && a.Kind != ir.ActionIncrement && a.Kind != ir.ActionAccumulate {
			add(field("action.limit"), ErrInvalidAction, "limit only applies to increment and accumulate")
		}
	}

	// E106
	if m := spec.Match; m != nil {
		lower, lowerSet := bound(m.Gte, m.Gt)
		upper, upperSet := bound(m.Lte, m.Lt)
		if m.Gte != nil && m.Gt != nil {
			add(field("match"), ErrInvalidMatch, "gte and gt are mutually exclusive")
		}
		if m.Lte != nil && m.Lt != nil {
			add(field("match"), ErrInvalidMatch, "lte and lt are mutually exclusive")
		}
		if lowerSet && upperSet && (lower > upper || (lower == upper && (m.Gt != nil || m.Lt != nil))) {
			add(field("match"), ErrInvalidMatch, "bounds admit no value")
		}
		if m.SelfBelowLimit && (spec.Action == nil || spec.Action.Limit == nil) {
			add(field("match.self_below_limit"), ErrInvalidMatch, "self_below_limit requires an action limit")
		}
	}

	// E107
	seen := make(map[string]bool, len(spec.DependsOn))
	for i, d := range spec.DependsOn {
		if seen[d] {
			add(fmt.Sprintf("%s[%d]", field("depends_on"), i), ErrDuplicateDependency,
				"duplicate dependency %q", d)
		}
		seen[d] = true
	}

	return errs
}

func bound(inclusive, exclusive *float64) (float64, bool) {
	switch {
	case inclusive != nil:
		return *inclusive, true
	case exclusive != nil:
		return *exclusive, true
	default:
		return 0, false
	}
}

// validateModelSpec checks every variant plus the references between
// variants and seeds.
func validateModelSpec(m *ir.ModelSpec) []ValidationError {
	var errs []ValidationError

	kinds := make(map[string]ir.VariantKind, len(m.Variants))
	for i := range m.Variants {
		spec := &m.Variants[i]
		errs = append(errs, validateVariantSpec(spec)...)

		// E105
		if _, dup := kinds[spec.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("variants[%d].name", i),
				Message: fmt.Sprintf("duplicate variant name: %q", spec.Name),
				Code:    ErrDuplicateName,
				Line:    spec.Line,
			})
			continue
		}
		kinds[spec.Name] = spec.Kind
	}

	for _, spec := range m.Variants {
		// E108
		for _, d := range spec.DependsOn {
			if _, ok := kinds[d]; !ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("variant.%s.depends_on", spec.Name),
					Message: fmt.Sprintf("undefined variant %q", d),
					Code:    ErrUndefinedVariant,
					Line:    spec.Line,
				})
			}
		}
		errs = append(errs, checkOutput(spec, "emit", spec.Emit, ir.KindMessage, kinds)...)
		errs = append(errs, checkOutput(spec, "spawn", spec.Spawn, ir.KindEntity, kinds)...)
	}

	// E110
	for i, s := range m.Seeds {
		kind, ok := kinds[s.Variant]
		switch {
		case !ok:
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("seed[%d].variant", i),
				Message: fmt.Sprintf("undefined variant %q", s.Variant),
				Code:    ErrInvalidSeed,
			})
		case kind == ir.KindEntity && s.Value == nil:
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("seed[%d].value", i),
				Message: "entity seeds need a value",
				Code:    ErrInvalidSeed,
			})
		}
	}

	return errs
}

// checkOutput validates an emit or spawn reference (E108, E109).
func checkOutput(spec ir.VariantSpec, field, target string, want ir.VariantKind, kinds map[string]ir.VariantKind) []ValidationError {
	if target == "" {
		return nil
	}
	kind, ok := kinds[target]
	if !ok {
		return []ValidationError{{
			Field:   fmt.Sprintf("variant.%s.%s", spec.Name, field),
			Message: fmt.Sprintf("undefined variant %q", target),
			Code:    ErrUndefinedVariant,
			Line:    spec.Line,
		}}
	}
	if kind != want {
		return []ValidationError{{
			Field:   fmt.Sprintf("variant.%s.%s", spec.Name, field),
			Message: fmt.Sprintf("%s target %q is a %s variant, want %s", field, target, kind, want),
			Code:    ErrWrongOutputKind,
			Line:    spec.Line,
		}}
	}
	return nil
}
