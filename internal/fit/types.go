package fit

import (
	"math"

	"github.com/cwbudde/curvesearch/internal/errs"
)

// Bounds defines valid parameter ranges. Nil slices leave every parameter
// unbounded; a single entry is broadcast to every parameter.
type Bounds struct {
	Lower []float64
	Upper []float64
}

// Unbounded returns bounds of (-Inf, +Inf) in every dimension.
func Unbounded() Bounds {
	return Bounds{}
}

// Uniform returns scalar bounds applied to every parameter.
func Uniform(lower, upper float64) Bounds {
	return Bounds{Lower: []float64{lower}, Upper: []float64{upper}}
}

// Expand returns one lower and one upper value per parameter. A lower
// value above its upper value is rejected; equal values pin the parameter.
func (b Bounds) Expand(n int) (lower, upper []float64, err error) {
	lower, err = expandSide(b.Lower, n, math.Inf(-1), "lower")
	if err != nil {
		return nil, nil, err
	}
	upper, err = expandSide(b.Upper, n, math.Inf(1), "upper")
	if err != nil {
		return nil, nil, err
	}
	for i := range lower {
		if math.IsNaN(lower[i]) || math.IsNaN(upper[i]) {
			return nil, nil, errs.Invalid("bounds", "parameter %d has a NaN bound", i)
		}
		if lower[i] > upper[i] {
			return nil, nil, errs.Invalid("bounds", "parameter %d has lower %v above upper %v", i, lower[i], upper[i])
		}
	}
	return lower, upper, nil
}

// Active reports whether any bound is finite.
func (b Bounds) Active() bool {
	for _, v := range b.Lower {
		if !math.IsInf(v, -1) {
			return true
		}
	}
	for _, v := range b.Upper {
		if !math.IsInf(v, 1) {
			return true
		}
	}
	return false
}

// Contains reports whether p lies inside the bounds.
func (b Bounds) Contains(p []float64) bool {
	lower, upper, err := b.Expand(len(p))
	if err != nil {
		return false
	}
	for i, v := range p {
		if v < lower[i] || v > upper[i] {
			return false
		}
	}
	return true
}

func expandSide(side []float64, n int, fill float64, name string) ([]float64, error) {
	out := make([]float64, n)
	switch len(side) {
	case 0:
		for i := range out {
			out[i] = fill
		}
	case 1:
		for i := range out {
			out[i] = side[0]
		}
	case n:
		copy(out, side)
	default:
		return nil, errs.Invalid("bounds", "%s has %d entries for %d parameters", name, len(side), n)
	}
	return out, nil
}

// InitialGuess returns a feasible starting point: the box midpoint where
// both bounds are finite, one unit inside a single finite bound, and 1
// where the parameter is unbounded.
func InitialGuess(lower, upper []float64) []float64 {
	p := make([]float64, len(lower))
	for i := range p {
		lf := !math.IsInf(lower[i], 0)
		uf := !math.IsInf(upper[i], 0)
		switch {
		case lf && uf:
			p[i] = 0.5 * (lower[i] + upper[i])
		case lf:
			p[i] = lower[i] + 1
		case uf:
			p[i] = upper[i] - 1
		default:
			p[i] = 1
		}
	}
	return p
}
