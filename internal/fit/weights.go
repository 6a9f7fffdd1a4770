package fit

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/curvesearch/internal/errs"
)

// weighting transforms raw residuals into whitened residuals: divided by
// sigma for per-sample uncertainties, or multiplied by L⁻¹ where L is the
// lower Cholesky factor of a full sample covariance.
type weighting struct {
	inv  []float64
	chol *mat.TriDense
}

func newWeighting(m int, sigma []float64, sigmaMatrix *mat.SymDense) (*weighting, error) {
	switch {
	case sigma != nil && sigmaMatrix != nil:
		return nil, errs.Invalid("sigma", "set either per-sample sigma or a covariance matrix, not both")
	case sigma != nil:
		if len(sigma) != m {
			return nil, errs.Invalid("sigma", "has %d entries for %d samples", len(sigma), m)
		}
		inv := make([]float64, m)
		for i, s := range sigma {
			if !(s > 0) || math.IsInf(s, 0) {
				return nil, errs.Invalid("sigma", "entry %d must be positive and finite, got %v", i, s)
			}
			inv[i] = 1 / s
		}
		return &weighting{inv: inv}, nil
	case sigmaMatrix != nil:
		if sigmaMatrix.SymmetricDim() != m {
			return nil, errs.Invalid("sigma", "covariance is %d×%d for %d samples", sigmaMatrix.SymmetricDim(), sigmaMatrix.SymmetricDim(), m)
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(sigmaMatrix); !ok {
			return nil, errs.Invalid("sigma", "covariance matrix must be positive definite")
		}
		var l mat.TriDense
		chol.LTo(&l)
		return &weighting{chol: &l}, nil
	default:
		return &weighting{}, nil
	}
}

func (w *weighting) apply(r []float64) {
	switch {
	case w.inv != nil:
		for i := range r {
			r[i] *= w.inv[i]
		}
	case w.chol != nil:
		forwardSubstitute(w.chol, r)
	}
}

func (w *weighting) applyColumns(j *mat.Dense) {
	if w.inv == nil && w.chol == nil {
		return
	}
	m, n := j.Dims()
	col := make([]float64, m)
	for c := 0; c < n; c++ {
		mat.Col(col, c, j)
		w.apply(col)
		j.SetCol(c, col)
	}
}

// forwardSubstitute overwrites b with the solution of L z = b.
func forwardSubstitute(l *mat.TriDense, b []float64) {
	blas64.Trsv(blas.NoTrans, l.RawTriangular(), blas64.Vector{N: len(b), Inc: 1, Data: b})
}
