package fit

import "gonum.org/v1/gonum/floats"

// Model is anything that can be evaluated over a vector of abscissae.
type Model interface {
	NumParams() int
	EvalAll(dst, xs, p []float64) []float64
}

// Residuals writes model(x, p) - y into dst and returns it.
func Residuals(dst []float64, m Model, x, y, p []float64) []float64 {
	dst = m.EvalAll(dst, x, p)
	floats.Sub(dst, y)
	return dst
}

// SumSquares is the least-squares cost of a residual vector.
func SumSquares(r []float64) float64 {
	return floats.Dot(r, r)
}

// Cost evaluates the unweighted sum of squared residuals of m at p.
func Cost(m Model, x, y, p []float64) float64 {
	return SumSquares(Residuals(nil, m, x, y, p))
}
