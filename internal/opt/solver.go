package opt

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/curvesearch/internal/errs"
)

// Method names accepted by NewSolver.
const (
	MethodLM    = "lm"
	MethodTRF   = "trf"
	MethodLBFGS = "lbfgs"
)

// ResidualFunc writes the residual vector for parameters p into dst.
type ResidualFunc func(dst, p []float64)

// JacobianFunc writes the m×n Jacobian of the residuals at p into dst.
type JacobianFunc func(dst *mat.Dense, p []float64)

// Problem is a nonlinear least-squares problem: minimize ½‖r(p)‖².
type Problem struct {
	Residuals ResidualFunc
	Jacobian  JacobianFunc // nil selects central finite differences
	M         int
	X0        []float64

	// Lower and Upper are nil or hold one value per parameter.
	Lower []float64
	Upper []float64
}

// Bounded reports whether any bound is finite.
func (p Problem) Bounded() bool {
	for _, v := range p.Lower {
		if !math.IsInf(v, -1) {
			return true
		}
	}
	for _, v := range p.Upper {
		if !math.IsInf(v, 1) {
			return true
		}
	}
	return false
}

func (p Problem) validate() error {
	n := len(p.X0)
	switch {
	case p.Residuals == nil:
		return errs.Invalid("problem", "residual function is required")
	case n == 0:
		return errs.Invalid("x0", "at least one parameter is required")
	case p.M < 1:
		return errs.Invalid("problem", "at least one residual is required")
	case p.Lower != nil && len(p.Lower) != n:
		return errs.Invalid("bounds", "lower has %d entries for %d parameters", len(p.Lower), n)
	case p.Upper != nil && len(p.Upper) != n:
		return errs.Invalid("bounds", "upper has %d entries for %d parameters", len(p.Upper), n)
	}
	return nil
}

// box returns the bounds expanded to ±Inf where absent.
func (p Problem) box() (lower, upper []float64) {
	n := len(p.X0)
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := range lower {
		lower[i] = math.Inf(-1)
		upper[i] = math.Inf(1)
		if p.Lower != nil {
			lower[i] = p.Lower[i]
		}
		if p.Upper != nil {
			upper[i] = p.Upper[i]
		}
	}
	return lower, upper
}

// Settings bounds the work a solver may do and sets its tolerances.
// Zero fields are replaced by the defaults for the problem size.
type Settings struct {
	MaxIterations int
	MaxFuncEvals  int
	FTol          float64
	XTol          float64
	GTol          float64
}

// DefaultSettings returns the settings used for a problem with n parameters.
func DefaultSettings(n int) Settings {
	return Settings{
		MaxIterations: 100 * (n + 1),
		MaxFuncEvals:  100 * (n + 1),
		FTol:          1e-8,
		XTol:          1e-8,
		GTol:          1e-8,
	}
}

func (s Settings) withDefaults(n int) Settings {
	d := DefaultSettings(n)
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.MaxFuncEvals <= 0 {
		s.MaxFuncEvals = d.MaxFuncEvals
	}
	if s.FTol <= 0 {
		s.FTol = d.FTol
	}
	if s.XTol <= 0 {
		s.XTol = d.XTol
	}
	if s.GTol <= 0 {
		s.GTol = d.GTol
	}
	return s
}

// Solution is the outcome of a solve. A solution that did not converge is
// still returned with the last accepted point.
type Solution struct {
	X         []float64
	Residuals []float64
	Jacobian  *mat.Dense

	// Cost is half the sum of squared residuals.
	Cost float64

	Converged  bool
	Message    string
	Iterations int
	FuncEvals  int
}

// Solver minimizes a least-squares problem.
type Solver interface {
	Name() string
	// SupportsBounds reports whether Problem.Lower and Problem.Upper are honored.
	SupportsBounds() bool
	Solve(ctx context.Context, p Problem, s Settings) (*Solution, error)
}

// NewSolver returns the solver registered under method.
func NewSolver(method string) (Solver, error) {
	switch method {
	case MethodLM:
		return NewLevenbergMarquardt(), nil
	case MethodTRF:
		return NewTrustRegion(), nil
	case MethodLBFGS:
		return NewLBFGS(), nil
	default:
		return nil, errs.Invalid("method", "unknown solver %q", method)
	}
}
