package fit

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/curvesearch/internal/errs"
	"github.com/cwbudde/curvesearch/internal/opt"
)

// DefaultSeedRange is the half-width of the search box used for unbounded
// parameters when a global seeder picks the initial guess.
const DefaultSeedRange = 100

// JacobianFunc writes d model(x_i, p) / d p_j into dst (len(x) × NumParams).
type JacobianFunc func(dst *mat.Dense, x, p []float64)

// Options controls a single curve fit. The zero value fits unweighted
// with default tolerances and an automatically chosen method.
type Options struct {
	Bounds       Bounds
	InitialGuess []float64

	// Method is "", "lm", "trf" or "lbfgs". The empty method selects lm
	// for unbounded problems and trf otherwise.
	Method string

	// Sigma holds one standard deviation per sample. SigmaMatrix is a full
	// sample covariance; at most one of the two may be set.
	Sigma         []float64
	SigmaMatrix   *mat.SymDense
	AbsoluteSigma bool

	Jacobian JacobianFunc

	MaxIterations int
	MaxFuncEvals  int
	Tolerance     float64

	// Seeder picks the initial guess when InitialGuess is nil.
	Seeder    opt.Optimizer
	SeedRange float64
}

// Result is the outcome of a successful fit.
type Result struct {
	Params     []float64
	Covariance *mat.SymDense

	// Cost is the sum of squared (weighted) residuals at Params.
	Cost      float64
	Residuals []float64

	Method     string
	Message    string
	Iterations int
	FuncEvals  int

	CovarianceIndeterminate bool
}

// StandardErrors returns the square roots of the covariance diagonal.
func (r *Result) StandardErrors() []float64 {
	n := len(r.Params)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sqrt(r.Covariance.At(i, i))
	}
	return out
}

// CurveFit fits m to the samples (x, y) by nonlinear least squares.
// Non-convergence is reported as *errs.ConvergenceError; malformed input
// as *errs.ValidationError. An indeterminate covariance is not an error:
// the covariance is filled with +Inf and the result is flagged.
func CurveFit(ctx context.Context, m Model, x, y []float64, opts Options) (*Result, error) {
	if err := validateSamples(x, y); err != nil {
		return nil, err
	}
	n := m.NumParams()
	if n < 1 {
		return nil, errs.Invalid("model", "unable to determine number of fit parameters")
	}

	lower, upper, err := opts.Bounds.Expand(n)
	if err != nil {
		return nil, err
	}
	bounded := opts.Bounds.Active()

	method := opts.Method
	if method == "" {
		method = opt.MethodLM
		if bounded {
			method = opt.MethodTRF
		}
	}
	solver, err := opt.NewSolver(method)
	if err != nil {
		return nil, err
	}
	if bounded && !solver.SupportsBounds() {
		return nil, errs.Invalid("method", "%q only works for unconstrained problems, use %q", method, opt.MethodTRF)
	}

	w, err := newWeighting(len(y), opts.Sigma, opts.SigmaMatrix)
	if err != nil {
		return nil, err
	}

	residuals := func(dst, p []float64) {
		copy(dst, m.EvalAll(dst, x, p))
		for i := range dst {
			dst[i] -= y[i]
		}
		w.apply(dst)
	}

	var jac opt.JacobianFunc
	if opts.Jacobian != nil {
		jac = func(dst *mat.Dense, p []float64) {
			opts.Jacobian(dst, x, p)
			w.applyColumns(dst)
		}
	}

	var p0 []float64
	switch {
	case opts.InitialGuess != nil:
		if len(opts.InitialGuess) != n {
			return nil, errs.Invalid("p0", "has %d entries, model expects %d", len(opts.InitialGuess), n)
		}
		for i, v := range opts.InitialGuess {
			if v < lower[i] || v > upper[i] {
				return nil, errs.Invalid("p0", "parameter %d = %v is outside the bounds", i, v)
			}
		}
		p0 = append([]float64(nil), opts.InitialGuess...)
	case opts.Seeder != nil:
		p0 = seed(opts.Seeder, residuals, len(y), lower, upper, opts.SeedRange)
	default:
		p0 = InitialGuess(lower, upper)
	}

	problem := opt.Problem{
		Residuals: residuals,
		Jacobian:  jac,
		M:         len(y),
		X0:        p0,
	}
	if bounded {
		problem.Lower, problem.Upper = lower, upper
	}
	settings := opt.Settings{
		MaxIterations: opts.MaxIterations,
		MaxFuncEvals:  opts.MaxFuncEvals,
		FTol:          opts.Tolerance,
		XTol:          opts.Tolerance,
		GTol:          opts.Tolerance,
	}

	sol, err := solver.Solve(ctx, problem, settings)
	if err != nil {
		return nil, fmt.Errorf("%s solve: %w", method, err)
	}
	if !sol.Converged {
		return nil, &errs.ConvergenceError{
			Method:     method,
			Message:    sol.Message,
			Iterations: sol.Iterations,
			FuncEvals:  sol.FuncEvals,
		}
	}

	cost := 2 * sol.Cost
	pcov, indeterminate := covariance(sol.Jacobian, cost, opts.AbsoluteSigma)
	if indeterminate {
		slog.Warn("Covariance of the parameters could not be estimated",
			"samples", len(y),
			"params", n,
			"method", method,
		)
	}

	return &Result{
		Params:                  sol.X,
		Covariance:              pcov,
		Cost:                    cost,
		Residuals:               sol.Residuals,
		Method:                  method,
		Message:                 sol.Message,
		Iterations:              sol.Iterations,
		FuncEvals:               sol.FuncEvals,
		CovarianceIndeterminate: indeterminate,
	}, nil
}

func validateSamples(x, y []float64) error {
	if len(y) == 0 {
		return errs.Invalid("y", "must not be empty")
	}
	if len(x) != len(y) {
		return errs.Invalid("y", "length %d does not match x length %d", len(y), len(x))
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) {
			return errs.Invalid("x", "sample %d is not finite", i)
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return errs.Invalid("y", "sample %d is not finite", i)
		}
	}
	return nil
}

// seed runs the global optimizer on the unweighted-or-weighted cost over
// the finite part of the bounds, using ±r for unbounded sides.
func seed(s opt.Optimizer, residuals opt.ResidualFunc, m int, lower, upper []float64, r float64) []float64 {
	if r <= 0 {
		r = DefaultSeedRange
	}
	n := len(lower)
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i := range lo {
		lo[i], hi[i] = lower[i], upper[i]
		switch {
		case math.IsInf(lo[i], -1) && math.IsInf(hi[i], 1):
			lo[i], hi[i] = -r, r
		case math.IsInf(lo[i], -1):
			lo[i] = hi[i] - 2*r
		case math.IsInf(hi[i], 1):
			hi[i] = lo[i] + 2*r
		}
	}

	buf := make([]float64, m)
	cost := func(p []float64) float64 {
		residuals(buf, p)
		c := SumSquares(buf)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return math.MaxFloat64
		}
		return c
	}

	best, bestCost := s.Run(cost, lo, hi, n)
	slog.Debug("Seeded initial guess", "params", best, "cost", bestCost)
	return best
}

// covariance estimates the parameter covariance from the Jacobian at the
// solution through its pseudo-inverse, discarding singular values below
// eps·max(m, n)·s₀.
func covariance(j *mat.Dense, cost float64, absolute bool) (*mat.SymDense, bool) {
	m, n := j.Dims()
	pcov := mat.NewSymDense(n, nil)

	var svd mat.SVD
	if !svd.Factorize(j, mat.SVDThin) {
		fillInf(pcov)
		return pcov, true
	}
	s := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	threshold := math.Nextafter(1, 2) - 1
	threshold *= float64(max(m, n)) * s[0]
	for a := 0; a < n; a++ {
		for b := a; b < n; b++ {
			sum := 0.0
			for k, sv := range s {
				if sv > threshold {
					sum += v.At(a, k) * v.At(b, k) / (sv * sv)
				}
			}
			pcov.SetSym(a, b, sum)
		}
	}

	if !absolute {
		dof := m - n
		if dof <= 0 {
			fillInf(pcov)
			return pcov, true
		}
		pcov.ScaleSym(cost/float64(dof), pcov)
	}

	for a := 0; a < n; a++ {
		for b := a; b < n; b++ {
			if math.IsNaN(pcov.At(a, b)) {
				fillInf(pcov)
				return pcov, true
			}
		}
	}
	return pcov, false
}

func fillInf(s *mat.SymDense) {
	n := s.SymmetricDim()
	for a := 0; a < n; a++ {
		for b := a; b < n; b++ {
			s.SetSym(a, b, math.Inf(1))
		}
	}
}
