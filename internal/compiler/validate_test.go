package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

func ptr(x float64) *float64 { return &x }

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func validModel() *ir.ModelSpec {
	return &ir.ModelSpec{
		Name: "book",
		Variants: []ir.VariantSpec{
			{Name: "price", Kind: ir.KindMessage},
			{Name: "exposure", Kind: ir.KindMessage},
			{Name: "order", Kind: ir.KindEntity},
			{
				Name:      "position",
				Kind:      ir.KindEntity,
				DependsOn: []string{"price"},
				Match:     &ir.MatchSpec{Gt: ptr(0)},
				Action:    &ir.ActionSpec{Kind: ir.ActionAccumulate, Limit: ptr(100)},
				Emit:      "exposure",
				Spawn:     "order",
			},
		},
		Seeds: []ir.SeedSpec{
			{Variant: "position", Value: ir.IRFloat(0)},
			{Variant: "price", Value: ir.IRFloat(10)},
		},
	}
}

func TestValidateModelValid(t *testing.T) {
	assert.Empty(t, Validate(validModel()))
	assert.Empty(t, Validate(*validModel()), "value form is accepted too")
}

func TestValidateVariant(t *testing.T) {
	tests := []struct {
		name string
		spec ir.VariantSpec
		want []string
	}{
		{
			name: "bad name",
			spec: ir.VariantSpec{Name: "Price", Kind: ir.KindMessage},
			want: []string{ErrInvalidVariantName},
		},
		{
			name: "bad kind",
			spec: ir.VariantSpec{Name: "x", Kind: "actor"},
			want: []string{ErrInvalidVariantKind},
		},
		{
			name: "message with behaviour",
			spec: ir.VariantSpec{
				Name: "x", Kind: ir.KindMessage,
				DependsOn: []string{"y"},
				Action:    &ir.ActionSpec{Kind: ir.ActionHold},
			},
			want: []string{ErrMessageBehaviour, ErrMessageBehaviour},
		},
		{
			name: "unknown action",
			spec: ir.VariantSpec{Name: "x", Kind: ir.KindEntity, Action: &ir.ActionSpec{Kind: "explode"}},
			want: []string{ErrInvalidAction},
		},
		{
			name: "increment without step",
			spec: ir.VariantSpec{Name: "x", Kind: ir.KindEntity, Action: &ir.ActionSpec{Kind: ir.ActionIncrement}},
			want: []string{ErrInvalidAction},
		},
		{
			name: "step and limit on follow",
			spec: ir.VariantSpec{Name: "x", Kind: ir.KindEntity, Action: &ir.ActionSpec{Kind: ir.ActionFollow, Step: 1, Limit: ptr(2)}},
			want: []string{ErrInvalidAction, ErrInvalidAction},
		},
		{
			name: "empty band",
			spec: ir.VariantSpec{Name: "x", Kind: ir.KindEntity, Match: &ir.MatchSpec{Gte: ptr(5), Lt: ptr(5)}},
			want: []string{ErrInvalidMatch},
		},
		{
			name: "inverted band",
			spec: ir.VariantSpec{Name: "x", Kind: ir.KindEntity, Match: &ir.MatchSpec{Gt: ptr(9), Lte: ptr(1)}},
			want: []string{ErrInvalidMatch},
		},
		{
			name: "point band is fine",
			spec: ir.VariantSpec{Name: "x", Kind: ir.KindEntity, Match: &ir.MatchSpec{Gte: ptr(5), Lte: ptr(5)}},
			want: []string{},
		},
		{
			name: "two lower bounds",
			spec: ir.VariantSpec{Name: "x", Kind: ir.KindEntity, Match: &ir.MatchSpec{Gte: ptr(1), Gt: ptr(1)}},
			want: []string{ErrInvalidMatch},
		},
		{
			name: "self_below_limit without limit",
			spec: ir.VariantSpec{
				Name: "x", Kind: ir.KindEntity,
				Match:  &ir.MatchSpec{SelfBelowLimit: true},
				Action: &ir.ActionSpec{Kind: ir.ActionIncrement, Step: 1},
			},
			want: []string{ErrInvalidMatch},
		},
		{
			name: "duplicate dependency",
			spec: ir.VariantSpec{Name: "x", Kind: ir.KindEntity, DependsOn: []string{"a", "b", "a"}},
			want: []string{ErrDuplicateDependency},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&tt.spec)
			assert.Equal(t, tt.want, append([]string{}, codes(errs)...))
		})
	}
}

func TestValidateModelReferences(t *testing.T) {
	m := validModel()
	m.Variants[3].DependsOn = []string{"price", "volume"}
	m.Variants[3].Emit = "order"
	m.Variants[3].Spawn = "ghost"
	m.Variants = append(m.Variants, ir.VariantSpec{Name: "price", Kind: ir.KindMessage})
	m.Seeds = append(m.Seeds,
		ir.SeedSpec{Variant: "nope", Value: ir.IRInt(1)},
		ir.SeedSpec{Variant: "order"},
	)

	errs := Validate(m)
	assert.ElementsMatch(t, []string{
		ErrDuplicateName,
		ErrUndefinedVariant, // volume
		ErrWrongOutputKind,  // emit order
		ErrUndefinedVariant, // spawn ghost
		ErrInvalidSeed,      // nope
		ErrInvalidSeed,      // order without value
	}, codes(errs))
}

func TestValidateUnsupportedType(t *testing.T) {
	errs := Validate("not a spec")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedIRType, errs[0].Code)
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "variant.x.kind", Message: "bad", Code: ErrInvalidVariantKind}
	assert.Equal(t, "[E102] variant.x.kind: bad", e.Error())

	e.Line = 7
	assert.Equal(t, "[E102] line 7: variant.x.kind: bad", e.Error())
}
