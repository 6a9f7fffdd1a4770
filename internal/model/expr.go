package model

import (
	"fmt"
	"strings"

	"github.com/cwbudde/curvesearch/internal/catalog"
)

// node is one vertex of a compiled expression tree. Every node reads its
// parameters from the shared composite vector by offset.
type node interface {
	eval(x float64, p []float64) float64
	form() string
}

// term references an elementary model whose parameters start at offset.
type term struct {
	fn      catalog.Func
	name    string
	offset  int
	symbols []string
}

func (t *term) eval(x float64, p []float64) float64 {
	return t.fn(x, p[t.offset:t.offset+len(t.symbols)])
}

func (t *term) form() string {
	return t.formAt("x")
}

func (t *term) formAt(arg string) string {
	return fmt.Sprintf("%s(%s, %s)", t.name, arg, strings.Join(t.symbols, ", "))
}

// fold combines its terms left to right with one arithmetic rule.
type fold struct {
	rule  Rule
	terms []*term
}

func (f *fold) eval(x float64, p []float64) float64 {
	v := f.terms[0].eval(x, p)
	for _, t := range f.terms[1:] {
		v = f.rule.apply(v, t.eval(x, p))
	}
	return v
}

func (f *fold) form() string {
	parts := make([]string, len(f.terms))
	for i, t := range f.terms {
		parts[i] = t.form()
	}
	return strings.Join(parts, " "+f.rule.Symbol()+" ")
}

// splice selects left for x < x0 and right otherwise. With continuity each
// branch is shifted so that it passes through (x0, y0).
type splice struct {
	left, right *term
	continuity  bool
}

func (s *splice) eval(x float64, p []float64) float64 {
	x0 := p[0]
	branch := s.right
	if x < x0 {
		branch = s.left
	}
	v := branch.eval(x, p)
	if s.continuity {
		v += p[1] - branch.eval(x0, p)
	}
	return v
}

func (s *splice) form() string {
	return fmt.Sprintf("x < x0 ? %s : %s", s.branchForm(s.left), s.branchForm(s.right))
}

func (s *splice) branchForm(t *term) string {
	if !s.continuity {
		return t.form()
	}
	return fmt.Sprintf("%s + y0 - %s", t.form(), t.formAt("x0"))
}
