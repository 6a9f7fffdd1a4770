package opt

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/curvesearch/internal/errs"
)

// rosenbrock is the classic banana valley written as two residuals.
func rosenbrock() Problem {
	return Problem{
		Residuals: func(dst, p []float64) {
			dst[0] = 10 * (p[1] - p[0]*p[0])
			dst[1] = 1 - p[0]
		},
		M:  2,
		X0: []float64{-1.2, 1},
	}
}

// line fits y = a*x + b to exact samples of 2x + 1.
func line() Problem {
	xs := []float64{0, 1, 2, 3, 4, 5}
	return Problem{
		Residuals: func(dst, p []float64) {
			for i, x := range xs {
				dst[i] = p[0]*x + p[1] - (2*x + 1)
			}
		},
		Jacobian: func(dst *mat.Dense, p []float64) {
			for i, x := range xs {
				dst.Set(i, 0, x)
				dst.Set(i, 1, 1)
			}
		},
		M:  len(xs),
		X0: []float64{1, 1},
	}
}

func TestLevenbergMarquardtRosenbrock(t *testing.T) {
	sol, err := NewLevenbergMarquardt().Solve(context.Background(), rosenbrock(), Settings{})
	require.NoError(t, err)

	assert.True(t, sol.Converged, sol.Message)
	assert.InDelta(t, 1, sol.X[0], 1e-6)
	assert.InDelta(t, 1, sol.X[1], 1e-6)
	assert.Less(t, sol.Cost, 1e-12)
	assert.Greater(t, sol.FuncEvals, 1)
}

func TestLevenbergMarquardtAnalyticJacobian(t *testing.T) {
	sol, err := NewLevenbergMarquardt().Solve(context.Background(), line(), Settings{})
	require.NoError(t, err)

	assert.True(t, sol.Converged)
	assert.InDelta(t, 2, sol.X[0], 1e-8)
	assert.InDelta(t, 1, sol.X[1], 1e-8)

	r, c := sol.Jacobian.Dims()
	assert.Equal(t, 6, r)
	assert.Equal(t, 2, c)
}

func TestLevenbergMarquardtRejectsBounds(t *testing.T) {
	p := rosenbrock()
	p.Lower = []float64{-2, math.Inf(-1)}
	p.Upper = []float64{2, math.Inf(1)}

	_, err := NewLevenbergMarquardt().Solve(context.Background(), p, Settings{})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestTrustRegionActiveBound(t *testing.T) {
	p := rosenbrock()
	p.X0 = []float64{0, 0}
	p.Lower = []float64{math.Inf(-1), math.Inf(-1)}
	p.Upper = []float64{0.5, math.Inf(1)}

	sol, err := NewTrustRegion().Solve(context.Background(), p, Settings{})
	require.NoError(t, err)

	assert.True(t, sol.Converged, sol.Message)
	assert.InDelta(t, 0.5, sol.X[0], 1e-6)
	assert.InDelta(t, 0.25, sol.X[1], 1e-5)
	assert.InDelta(t, 0.125, sol.Cost, 1e-6)
}

func TestTrustRegionPinnedParameter(t *testing.T) {
	p := line()
	p.Lower = []float64{3, math.Inf(-1)}
	p.Upper = []float64{3, math.Inf(1)}

	sol, err := NewTrustRegion().Solve(context.Background(), p, Settings{})
	require.NoError(t, err)

	assert.Equal(t, 3.0, sol.X[0])
	// With the slope pinned at 3 the best intercept is mean(2x+1-3x) = 1-2.5.
	assert.InDelta(t, -1.5, sol.X[1], 1e-6)
}

func TestTrustRegionClampsStartingPoint(t *testing.T) {
	p := line()
	p.X0 = []float64{10, 1}
	p.Lower = []float64{0, 0}
	p.Upper = []float64{5, 5}

	sol, err := NewTrustRegion().Solve(context.Background(), p, Settings{})
	require.NoError(t, err)
	assert.InDelta(t, 2, sol.X[0], 1e-6)
	assert.InDelta(t, 1, sol.X[1], 1e-6)
}

func TestSolveBudgetExhausted(t *testing.T) {
	sol, err := NewLevenbergMarquardt().Solve(context.Background(), rosenbrock(), Settings{MaxFuncEvals: 3})
	require.NoError(t, err)

	assert.False(t, sol.Converged)
	assert.Contains(t, sol.Message, "function evaluations")
	assert.Equal(t, 3, sol.FuncEvals)
}

func TestSolveNonFiniteStart(t *testing.T) {
	p := Problem{
		Residuals: func(dst, p []float64) { dst[0] = math.Log(p[0]) },
		M:         1,
		X0:        []float64{-1},
	}

	for _, s := range []Solver{NewLevenbergMarquardt(), NewTrustRegion(), NewLBFGS()} {
		_, err := s.Solve(context.Background(), p, Settings{})
		assert.True(t, errs.IsValidation(err), s.Name())
	}
}

func TestSolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTrustRegion().Solve(ctx, rosenbrock(), Settings{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSolveValidatesProblem(t *testing.T) {
	tests := []struct {
		name string
		prob Problem
	}{
		{"no residuals", Problem{M: 1, X0: []float64{1}}},
		{"no parameters", Problem{Residuals: func(dst, p []float64) {}, M: 1}},
		{"no samples", Problem{Residuals: func(dst, p []float64) {}, X0: []float64{1}}},
		{"short bounds", Problem{Residuals: func(dst, p []float64) {}, M: 1, X0: []float64{1, 2}, Lower: []float64{0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTrustRegion().Solve(context.Background(), tt.prob, Settings{})
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestLBFGSLine(t *testing.T) {
	sol, err := NewLBFGS().Solve(context.Background(), line(), Settings{})
	require.NoError(t, err)

	assert.True(t, sol.Converged, sol.Message)
	assert.InDelta(t, 2, sol.X[0], 1e-4)
	assert.InDelta(t, 1, sol.X[1], 1e-4)
}

func TestNewSolver(t *testing.T) {
	for _, name := range []string{MethodLM, MethodTRF, MethodLBFGS} {
		s, err := NewSolver(name)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}
	assert.True(t, NewTrustRegion().SupportsBounds())
	assert.False(t, NewLevenbergMarquardt().SupportsBounds())

	_, err := NewSolver("dogbox")
	assert.True(t, errs.IsValidation(err))
}

func TestNumericJacobianMatchesAnalytic(t *testing.T) {
	p := line()
	want := mat.NewDense(6, 2, nil)
	p.Jacobian(want, []float64{4, -3})

	got := mat.NewDense(6, 2, nil)
	NumericJacobian(p.Residuals)(got, []float64{4, -3})

	assert.True(t, mat.EqualApprox(want, got, 1e-6))
}
