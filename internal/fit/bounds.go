package fit

import (
	"math"
	"sort"

	"github.com/cwbudde/curvesearch/internal/errs"
)

// minSplitIndex is the smallest sample index, counted from either end of
// the sorted data, that may bound the split point.
const minSplitIndex = 9

// SplitModel is the part of a compiled model the bounds heuristic reads.
type SplitModel interface {
	NumParams() int
	IsPiecewise() bool
	HasContinuity() bool
}

// DeriveBounds constrains the split point of a piecewise model to the
// interior of the sampled range so that each branch keeps at least about
// ten points. When the model carries a junction value y0 it is bounded the
// same way on the sorted y values. Every other parameter is unbounded, as
// are all parameters of non-piecewise models.
func DeriveBounds(m SplitModel, x, y []float64) (Bounds, error) {
	if !m.IsPiecewise() {
		return Unbounded(), nil
	}
	if len(x) == 0 {
		return Bounds{}, errs.Invalid("x", "cannot derive bounds from an empty sample")
	}
	if len(x) != len(y) {
		return Bounds{}, errs.Invalid("y", "length %d does not match x length %d", len(y), len(x))
	}

	n := len(x)
	lo, hi := splitIndices(n)

	lower := make([]float64, m.NumParams())
	upper := make([]float64, m.NumParams())
	for i := range lower {
		lower[i] = math.Inf(-1)
		upper[i] = math.Inf(1)
	}

	xs := sortedCopy(x)
	lower[0], upper[0] = xs[lo], xs[hi]

	if m.HasContinuity() {
		ys := sortedCopy(y)
		lower[1], upper[1] = ys[lo], ys[hi]
	}

	return Bounds{Lower: lower, Upper: upper}, nil
}

// splitIndices returns max(9, ceil(5% of n)) and its mirror from the end,
// clamped into the sample and ordered. Short samples may collapse both
// indices onto the same point.
func splitIndices(n int) (lo, hi int) {
	k := int(math.Ceil(0.05 * float64(n)))
	if k < minSplitIndex {
		k = minSplitIndex
	}
	lo = min(k, n-1)
	hi = max(n-1-k, 0)
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

func sortedCopy(v []float64) []float64 {
	out := append([]float64(nil), v...)
	sort.Float64s(out)
	return out
}
