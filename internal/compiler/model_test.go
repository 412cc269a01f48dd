package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

func compile(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return v
}

func TestCompileModelCounter(t *testing.T) {
	v := compile(t, `
		model: "counter"

		variant: counter: {
			description: "counts to one"
			depends_on: ["counter"]
			match: self_below_limit: true
			action: {kind: "increment", step: 0.1, limit: 1.0}
		}

		seed: [{variant: "counter", value: 0.0}]
	`)

	m, err := CompileModel(v)
	require.NoError(t, err)

	assert.Equal(t, "counter", m.Name)
	require.Len(t, m.Variants, 1)

	c := m.Variants[0]
	assert.Equal(t, "counter", c.Name)
	assert.Equal(t, ir.KindEntity, c.Kind, "kind defaults to entity")
	assert.Equal(t, "counts to one", c.Description)
	assert.Equal(t, []string{"counter"}, c.DependsOn)
	require.NotNil(t, c.Match)
	assert.True(t, c.Match.SelfBelowLimit)
	require.NotNil(t, c.Action)
	assert.Equal(t, ir.ActionIncrement, c.Action.Kind)
	assert.Equal(t, 0.1, c.Action.Step)
	require.NotNil(t, c.Action.Limit)
	assert.Equal(t, 1.0, *c.Action.Limit)
	assert.Positive(t, c.Line)

	require.Len(t, m.Seeds, 1)
	assert.Equal(t, "counter", m.Seeds[0].Variant)
	x, ok := ir.AsFloat(m.Seeds[0].Value)
	require.True(t, ok)
	assert.Zero(t, x)

	assert.Empty(t, Validate(m))
}

func TestCompileVariantMessage(t *testing.T) {
	v := compile(t, `variant: price: kind: "message"`)

	spec, err := CompileVariant(v.LookupPath(cue.ParsePath("variant.price")))
	require.NoError(t, err)
	assert.Equal(t, "price", spec.Name)
	assert.Equal(t, ir.KindMessage, spec.Kind)
	assert.Empty(t, spec.DependsOn)
	assert.NotNil(t, spec.DependsOn)
	assert.Nil(t, spec.Match)
	assert.Nil(t, spec.Action)
}

func TestCompileVariantMatchBounds(t *testing.T) {
	v := compile(t, `
		variant: band: {
			depends_on: ["price"]
			match: {gte: 10, lt: 20.5}
			action: kind: "follow"
			emit: "in_band"
		}
	`)

	spec, err := CompileVariant(v.LookupPath(cue.ParsePath("variant.band")))
	require.NoError(t, err)
	require.NotNil(t, spec.Match.Gte)
	require.NotNil(t, spec.Match.Lt)
	assert.Equal(t, 10.0, *spec.Match.Gte)
	assert.Equal(t, 20.5, *spec.Match.Lt)
	assert.Nil(t, spec.Match.Gt)
	assert.Nil(t, spec.Match.Lte)
	assert.Equal(t, ir.ActionFollow, spec.Action.Kind)
	assert.Equal(t, "in_band", spec.Emit)
}

func TestCompileVariantActionWithoutKind(t *testing.T) {
	v := compile(t, `variant: bad: action: step: 1`)

	_, err := CompileVariant(v.LookupPath(cue.ParsePath("variant.bad")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action kind is required")
}

func TestCompileVariantWrongType(t *testing.T) {
	v := compile(t, `variant: bad: depends_on: "price"`)

	_, err := CompileVariant(v.LookupPath(cue.ParsePath("variant.bad")))
	require.Error(t, err)
}

func TestCompileSeedStructuredValue(t *testing.T) {
	v := compile(t, `seed: {variant: "quote", value: {bid: 99.5, ask: 100, venue: "x"}}`)

	seed, err := CompileSeed(v.LookupPath(cue.ParsePath("seed")))
	require.NoError(t, err)
	assert.Equal(t, "quote", seed.Variant)

	obj, ok := seed.Value.(ir.IRObject)
	require.True(t, ok)
	assert.Equal(t, ir.IRFloat(99.5), obj["bid"])
	ask, ok := ir.AsFloat(obj["ask"])
	require.True(t, ok)
	assert.Equal(t, 100.0, ask)
	assert.Equal(t, ir.IRString("x"), obj["venue"])
}

func TestCompileSeedDefaults(t *testing.T) {
	v := compile(t, `seed: variant: "tick"`)
	seed, err := CompileSeed(v.LookupPath(cue.ParsePath("seed")))
	require.NoError(t, err)
	assert.Equal(t, ir.IRNull{}, seed.Value)

	v = compile(t, `seed: value: 1`)
	_, err = CompileSeed(v.LookupPath(cue.ParsePath("seed")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed variant is required")
}

func TestCompileSeedIncompleteValue(t *testing.T) {
	v := compile(t, `seed: {variant: "tick", value: int}`)
	_, err := CompileSeed(v.LookupPath(cue.ParsePath("seed")))
	require.Error(t, err)
}

func TestCompileModelRequiresVariants(t *testing.T) {
	v := compile(t, `model: "empty"`)
	_, err := CompileModel(v)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "variant", ce.Field)
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "variant", Message: "required"}
	assert.Equal(t, "variant: required", err.Error())
}
