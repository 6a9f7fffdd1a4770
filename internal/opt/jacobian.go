package opt

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// NumericJacobian approximates the Jacobian of f with central differences.
// The step grows with the largest parameter magnitude so that large
// parameters are not differenced below their rounding error.
func NumericJacobian(f ResidualFunc) JacobianFunc {
	return func(dst *mat.Dense, p []float64) {
		scale := 1.0
		for _, v := range p {
			scale = math.Max(scale, math.Abs(v))
		}
		fd.Jacobian(dst, func(y, x []float64) { f(y, x) }, p, &fd.JacobianSettings{
			Formula: fd.Central,
			Step:    fd.Central.Step * scale,
		})
	}
}

// normalEquations fills a = JᵀJ and g = Jᵀr.
func normalEquations(a *mat.SymDense, g []float64, j *mat.Dense, r []float64) {
	m, n := j.Dims()
	a.SymOuterK(1, j.T())
	gv := mat.NewVecDense(n, g)
	gv.MulVec(j.T(), mat.NewVecDense(m, r))
}
