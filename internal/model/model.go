// Package model compiles lists of catalog names into evaluable composite
// models with flat, uniquely named parameter vectors.
package model

import (
	"fmt"
	"strings"

	"github.com/cwbudde/curvesearch/internal/catalog"
	"github.com/cwbudde/curvesearch/internal/errs"
)

// FormDefault is the form reported for models taken directly from the catalog.
const FormDefault = "Default"

// Spec is a compiled candidate model. It is immutable and safe for
// concurrent evaluation.
type Spec struct {
	Name      string
	Form      string
	Symbols   []string
	Functions []string
	Rule      Rule
	Kind      Kind

	root       node
	continuity bool
}

// NumParams returns the length of the parameter vector the model expects.
func (s *Spec) NumParams() int {
	return len(s.Symbols)
}

// IsPiecewise reports whether the model is a two-piece split. The split
// point x0 is always the first parameter.
func (s *Spec) IsPiecewise() bool {
	return s.Kind == Split
}

// HasContinuity reports whether the split carries the y0 junction
// parameter at index 1.
func (s *Spec) HasContinuity() bool {
	return s.continuity
}

// Eval evaluates the model at x. It panics if len(p) != NumParams().
func (s *Spec) Eval(x float64, p []float64) float64 {
	if len(p) != len(s.Symbols) {
		panic(fmt.Sprintf("model %s: expected %d parameters, got %d", s.Name, len(s.Symbols), len(p)))
	}
	return s.root.eval(x, p)
}

// EvalAll evaluates the model at every element of xs. dst is reused when
// it has the right length.
func (s *Spec) EvalAll(dst, xs, p []float64) []float64 {
	if len(dst) != len(xs) {
		dst = make([]float64, len(xs))
	}
	for i, x := range xs {
		dst[i] = s.Eval(x, p)
	}
	return dst
}

// Compiler builds Specs against one catalog.
type Compiler struct {
	reg *catalog.Registry
}

// NewCompiler creates a compiler over reg.
func NewCompiler(reg *catalog.Registry) *Compiler {
	return &Compiler{reg: reg}
}

// Registry returns the catalog the compiler resolves names against.
func (c *Compiler) Registry() *catalog.Registry {
	return c.reg
}

// Compile builds a model from catalog names. A single name with an
// arithmetic rule returns the catalog entry itself and ignores name. An
// empty name selects the default operation_... or piecewise_... name.
func (c *Compiler) Compile(names []string, rule Rule, name string) (*Spec, error) {
	if len(names) == 0 {
		return nil, errs.Invalid("functions", "at least one catalog name is required")
	}

	models := make([]catalog.ElementaryModel, len(names))
	for i, n := range names {
		m, ok := c.reg.Lookup(n)
		if !ok {
			return nil, errs.Invalid("functions", "unknown catalog name %q", n)
		}
		models[i] = m
	}

	if rule == Piecewise {
		if len(models) != 2 {
			return nil, errs.Invalid("functions", "piecewise requires exactly 2 names, got %d", len(models))
		}
		return c.compileSplit(models, name), nil
	}

	if rule < Sum || rule > Division {
		return nil, errs.Invalid("rule", "unsupported rule %v", rule)
	}

	if len(models) == 1 {
		m := models[0]
		t := &term{fn: m.Fn, name: m.Name, symbols: m.Params}
		return &Spec{
			Name:      m.Name,
			Form:      FormDefault,
			Symbols:   append([]string(nil), m.Params...),
			Functions: []string{m.Name},
			Rule:      rule,
			Kind:      Elementary,
			root:      t,
		}, nil
	}

	var symbols []string
	terms := make([]*term, len(models))
	for i, m := range models {
		t := &term{fn: m.Fn, name: m.Name, offset: len(symbols), symbols: indexedSymbols(i, m.ParameterCount())}
		symbols = append(symbols, t.symbols...)
		terms[i] = t
	}

	if name == "" {
		name = "operation_" + strings.Join(names, "_")
	}
	root := &fold{rule: rule, terms: terms}
	return &Spec{
		Name:      name,
		Form:      root.form(),
		Symbols:   symbols,
		Functions: append([]string(nil), names...),
		Rule:      rule,
		Kind:      Operation,
		root:      root,
	}, nil
}

func (c *Compiler) compileSplit(models []catalog.ElementaryModel, name string) *Spec {
	left, right := models[0], models[1]
	continuity := !(left.Name == right.Name && left.Constant)

	symbols := []string{"x0"}
	if continuity {
		symbols = append(symbols, "y0")
	}
	lt := &term{fn: left.Fn, name: left.Name, offset: len(symbols), symbols: indexedSymbols(0, left.ParameterCount())}
	symbols = append(symbols, lt.symbols...)
	rt := &term{fn: right.Fn, name: right.Name, offset: len(symbols), symbols: indexedSymbols(1, right.ParameterCount())}
	symbols = append(symbols, rt.symbols...)

	if name == "" {
		name = "piecewise_" + left.Name + "_" + right.Name
	}
	root := &splice{left: lt, right: rt, continuity: continuity}
	return &Spec{
		Name:       name,
		Form:       root.form(),
		Symbols:    symbols,
		Functions:  []string{left.Name, right.Name},
		Rule:       Piecewise,
		Kind:       Split,
		root:       root,
		continuity: continuity,
	}
}

func indexedSymbols(i, n int) []string {
	out := make([]string, n)
	for j := range out {
		out[j] = fmt.Sprintf("p%d_%d", i, j)
	}
	return out
}
