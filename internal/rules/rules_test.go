package rules

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomjrwilliams/xsm/internal/engine"
	"github.com/tomjrwilliams/xsm/internal/ir"
)

func ptr(x float64) *float64 { return &x }

func counterModel() *ir.ModelSpec {
	return &ir.ModelSpec{
		Name: "counter",
		Variants: []ir.VariantSpec{{
			Name:      "counter",
			Kind:      ir.KindEntity,
			DependsOn: []string{"counter"},
			Match:     &ir.MatchSpec{SelfBelowLimit: true},
			Action:    &ir.ActionSpec{Kind: ir.ActionIncrement, Step: 0.1, Limit: ptr(1)},
		}},
		Seeds: []ir.SeedSpec{{Variant: "counter", Value: ir.IRFloat(0)}},
	}
}

func mustCatalog(t *testing.T, m *ir.ModelSpec) *Catalog {
	t.Helper()
	c, err := NewCatalog(m)
	require.NoError(t, err)
	return c
}

func mustNew(t *testing.T, c *Catalog, name string, v ir.IRValue) engine.Event {
	t.Helper()
	ev, err := c.New(name, v)
	require.NoError(t, err)
	return ev
}

func apply(t *testing.T, s engine.State, ev engine.Event) engine.Result {
	t.Helper()
	require.True(t, s.Matches(ev))
	res, err := s.Handler(ev)(s, ev)
	require.NoError(t, err)
	return res
}

func TestCatalog(t *testing.T) {
	m := &ir.ModelSpec{Variants: []ir.VariantSpec{
		{Name: "price", Kind: ir.KindMessage},
		{Name: "position", Kind: ir.KindEntity, DependsOn: []string{"price"}},
	}}
	c := mustCatalog(t, m)

	assert.Equal(t, []string{"price", "position"}, c.Variants())
	_, ok := c.Lookup("price")
	assert.True(t, ok)

	msg := mustNew(t, c, "price", ir.IRFloat(3))
	assert.False(t, msg.Persists())
	assert.IsType(t, engine.Message{}, msg)

	pos := mustNew(t, c, "position", nil)
	assert.True(t, pos.Persists())
	assert.Equal(t, ir.IRNull{}, pos.Curr())
	assert.Nil(t, pos.Prev())

	_, err := c.New("nope", nil)
	assert.Error(t, err)

	m.Variants = append(m.Variants, ir.VariantSpec{Name: "price"})
	_, err = NewCatalog(m)
	assert.ErrorContains(t, err, "declared twice")
}

func TestEntity_DependenciesShared(t *testing.T) {
	c := mustCatalog(t, counterModel())
	a := mustNew(t, c, "counter", ir.IRFloat(0)).(engine.State)
	b := mustNew(t, c, "counter", ir.IRFloat(5)).(engine.State)

	assert.Equal(t, []engine.Variant{"counter"}, a.Dependencies())
	assert.Same(t, &a.Dependencies()[0], &b.Dependencies()[0])
}

func TestEntity_Matches(t *testing.T) {
	m := &ir.ModelSpec{Variants: []ir.VariantSpec{
		{Name: "tick", Kind: ir.KindMessage},
		{
			Name: "band", Kind: ir.KindEntity, DependsOn: []string{"tick"},
			Match:  &ir.MatchSpec{Gte: ptr(10), Lt: ptr(20)},
			Action: &ir.ActionSpec{Kind: ir.ActionFollow},
		},
		{
			Name: "open", Kind: ir.KindEntity, DependsOn: []string{"tick"},
			Match:  &ir.MatchSpec{Gt: ptr(0), Lte: ptr(1)},
			Action: &ir.ActionSpec{Kind: ir.ActionFollow},
		},
	}}
	c := mustCatalog(t, m)
	band := mustNew(t, c, "band", ir.IRFloat(0)).(engine.State)
	open := mustNew(t, c, "open", ir.IRFloat(0)).(engine.State)

	tick := func(v ir.IRValue) engine.Event { return engine.NewMessage("tick", v) }

	assert.True(t, band.Matches(tick(ir.IRInt(10))))
	assert.True(t, band.Matches(tick(ir.IRFloat(19.99))))
	assert.False(t, band.Matches(tick(ir.IRFloat(20))))
	assert.False(t, band.Matches(tick(ir.IRFloat(9.5))))
	assert.False(t, band.Matches(tick(ir.IRString("15"))), "bounds reject non-numeric events")

	assert.False(t, open.Matches(tick(ir.IRFloat(0))))
	assert.True(t, open.Matches(tick(ir.IRFloat(1))))
	assert.False(t, open.Matches(tick(ir.IRFloat(1.5))))
}

func TestEntity_SelfBelowLimit(t *testing.T) {
	c := mustCatalog(t, counterModel())
	below := mustNew(t, c, "counter", ir.IRFloat(0.5)).(engine.State)
	at := mustNew(t, c, "counter", ir.IRFloat(1)).(engine.State)

	ev := engine.NewMessage("counter", ir.IRFloat(0))
	assert.True(t, below.Matches(ev))
	assert.False(t, at.Matches(ev))
}

func TestEntity_Increment(t *testing.T) {
	c := mustCatalog(t, counterModel())
	s := mustNew(t, c, "counter", ir.IRFloat(0.2)).(engine.State)

	res := apply(t, s, s)
	assert.Equal(t, engine.KindSelfOnly, res.Kind)
	assert.Equal(t, ir.IRFloat(0.3), res.Self.Curr(), "rounded, not 0.30000000000000004")
	assert.Equal(t, ir.IRFloat(0.2), res.Self.Prev())

	near := mustNew(t, c, "counter", ir.IRFloat(0.95)).(engine.State)
	res = apply(t, near, near)
	assert.Equal(t, ir.IRFloat(1), res.Self.Curr(), "capped at the limit")
}

func TestEntity_AccumulateAndEmit(t *testing.T) {
	m := &ir.ModelSpec{Variants: []ir.VariantSpec{
		{Name: "fill", Kind: ir.KindMessage},
		{Name: "exposure", Kind: ir.KindMessage},
		{
			Name: "position", Kind: ir.KindEntity, DependsOn: []string{"fill"},
			Action: &ir.ActionSpec{Kind: ir.ActionAccumulate},
			Emit:   "exposure",
		},
	}}
	c := mustCatalog(t, m)
	pos := mustNew(t, c, "position", ir.IRInt(2)).(engine.State)

	res := apply(t, pos, engine.NewMessage("fill", ir.IRFloat(1.5)))
	require.Equal(t, engine.KindSelfAndSpawned, res.Kind)
	assert.Equal(t, ir.IRFloat(3.5), res.Self.Curr())
	require.Len(t, res.Spawned, 1)

	out := res.Spawned[0]
	assert.Equal(t, engine.Variant("exposure"), out.Variant())
	assert.False(t, out.Persists())
	assert.Equal(t, ir.IRFloat(3.5), out.Curr())
	assert.Equal(t, ir.IRInt(2), out.Prev())

	_, err := pos.Handler(nil)(pos, engine.NewMessage("fill", ir.IRString("x")))
	assert.ErrorContains(t, err, "not a number")
}

func TestEntity_FollowAndSpawn(t *testing.T) {
	m := &ir.ModelSpec{Variants: []ir.VariantSpec{
		{Name: "quote", Kind: ir.KindMessage},
		{Name: "order", Kind: ir.KindEntity},
		{
			Name: "trader", Kind: ir.KindEntity, DependsOn: []string{"quote"},
			Action: &ir.ActionSpec{Kind: ir.ActionFollow},
			Spawn:  "order",
		},
	}}
	c := mustCatalog(t, m)
	tr := mustNew(t, c, "trader", ir.IRNull{}).(engine.State)

	quote := ir.IRObject{"bid": ir.IRFloat(99.5), "ask": ir.IRFloat(100)}
	res := apply(t, tr, engine.NewMessage("quote", quote))

	assert.Equal(t, quote, res.Self.Curr())
	require.Len(t, res.Spawned, 1)
	assert.True(t, res.Spawned[0].Persists())
	assert.Equal(t, engine.Variant("order"), res.Spawned[0].Variant())
	assert.Equal(t, quote, res.Spawned[0].Curr())
}

func TestEntity_RetireAndHold(t *testing.T) {
	m := &ir.ModelSpec{Variants: []ir.VariantSpec{
		{Name: "close", Kind: ir.KindMessage},
		{Name: "closed", Kind: ir.KindMessage},
		{
			Name: "position", Kind: ir.KindEntity, DependsOn: []string{"close"},
			Action: &ir.ActionSpec{Kind: ir.ActionRetire},
			Emit:   "closed",
		},
		{Name: "static", Kind: ir.KindEntity, DependsOn: []string{"close"}},
	}}
	c := mustCatalog(t, m)

	pos := mustNew(t, c, "position", ir.IRInt(4)).(engine.State)
	res := apply(t, pos, engine.NewMessage("close", nil))
	assert.Equal(t, engine.KindRetired, res.Kind)
	require.Len(t, res.Spawned, 1)
	assert.Equal(t, ir.IRInt(4), res.Spawned[0].Curr())

	st := mustNew(t, c, "static", ir.IRString("x")).(engine.State)
	res = apply(t, st, engine.NewMessage("close", nil))
	assert.Equal(t, engine.KindSelfOnly, res.Kind)
	assert.Equal(t, ir.IRString("x"), res.Self.Curr())
	assert.Equal(t, ir.IRString("x"), res.Self.Prev())
}

func TestEntity_String(t *testing.T) {
	c := mustCatalog(t, counterModel())
	e := mustNew(t, c, "counter", ir.IRFloat(0.5))
	assert.Equal(t, "counter(0.5)", e.(Entity).String())
}

func TestCounterModelRunsToLimit(t *testing.T) {
	m := counterModel()
	c := mustCatalog(t, m)
	seeds, err := c.Seeds(m)
	require.NoError(t, err)

	for _, strategy := range []engine.Strategy{engine.StrategyCooperative, engine.StrategyParallel} {
		t.Run(string(strategy), func(t *testing.T) {
			e, err := engine.New(
				engine.WithStrategy(strategy),
				engine.WithWorkers(2),
				engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			)
			require.NoError(t, err)

			out, err := e.Run(context.Background(), seeds)
			require.NoError(t, err)
			assert.Equal(t, engine.StatusQuiesced, out.Status)
			require.Len(t, out.Entities, 1)
			assert.Equal(t, ir.IRFloat(1), out.Entities[0].State.Curr())
		})
	}
}
