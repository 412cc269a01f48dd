package rules

import (
	"fmt"

	"github.com/tomjrwilliams/xsm/internal/engine"
	"github.com/tomjrwilliams/xsm/internal/ir"
)

// variant is the compiled, shared form of one VariantSpec.
type variant struct {
	spec *ir.VariantSpec
	deps []engine.Variant
	cat  *Catalog
}

// Catalog resolves variant names to compiled declarations.
type Catalog struct {
	name     string
	variants map[string]*variant
	order    []string
}

// NewCatalog compiles the variants of m. The model is expected to have
// passed compiler.Validate; NewCatalog only rejects what would make the
// catalog itself ambiguous.
func NewCatalog(m *ir.ModelSpec) (*Catalog, error) {
	c := &Catalog{
		name:     m.Name,
		variants: make(map[string]*variant, len(m.Variants)),
	}
	for i := range m.Variants {
		spec := &m.Variants[i]
		if spec.Name == "" {
			return nil, fmt.Errorf("variant %d: empty name", i)
		}
		if _, dup := c.variants[spec.Name]; dup {
			return nil, fmt.Errorf("variant %q declared twice", spec.Name)
		}
		deps := make([]engine.Variant, len(spec.DependsOn))
		for j, d := range spec.DependsOn {
			deps[j] = engine.Variant(d)
		}
		c.variants[spec.Name] = &variant{spec: spec, deps: deps, cat: c}
		c.order = append(c.order, spec.Name)
	}
	return c, nil
}

// Name returns the model name.
func (c *Catalog) Name() string { return c.name }

// Variants returns the declared variant names in declaration order.
func (c *Catalog) Variants() []string { return c.order }

// Lookup returns the spec for name.
func (c *Catalog) Lookup(name string) (*ir.VariantSpec, bool) {
	v, ok := c.variants[name]
	if !ok {
		return nil, false
	}
	return v.spec, true
}

// New builds an event of the named variant carrying value: an Entity for
// entity variants, a Message for message variants.
func (c *Catalog) New(name string, value ir.IRValue) (engine.Event, error) {
	v, ok := c.variants[name]
	if !ok {
		return nil, fmt.Errorf("unknown variant %q", name)
	}
	if value == nil {
		value = ir.IRNull{}
	}
	if v.spec.Kind == ir.KindMessage {
		return engine.NewMessage(engine.Variant(name), value), nil
	}
	return Entity{v: v, curr: value}, nil
}

// Seeds builds the initial events of m in declaration order.
func (c *Catalog) Seeds(m *ir.ModelSpec) ([]engine.Event, error) {
	out := make([]engine.Event, 0, len(m.Seeds))
	for i, s := range m.Seeds {
		ev, err := c.New(s.Variant, s.Value)
		if err != nil {
			return nil, fmt.Errorf("seed %d: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
