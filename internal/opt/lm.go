package opt

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/curvesearch/internal/errs"
)

// dampedSolver is a Levenberg-Marquardt solver with Marquardt scaling: the
// damping term is μ·D where D holds the largest diagonal of JᵀJ seen so
// far. In bounded mode steps are projected onto the box and parameters
// pinned at an active bound are removed from the damped system, so the
// damping factor acts as an adaptive trust region around the feasible
// iterate.
type dampedSolver struct {
	name    string
	bounded bool
	tau     float64
}

// NewLevenbergMarquardt returns the unconstrained Levenberg-Marquardt solver.
func NewLevenbergMarquardt() Solver {
	return &dampedSolver{name: MethodLM, tau: 1e-3}
}

// NewTrustRegion returns the bound-constrained solver.
func NewTrustRegion() Solver {
	return &dampedSolver{name: MethodTRF, bounded: true, tau: 1e-3}
}

func (d *dampedSolver) Name() string         { return d.name }
func (d *dampedSolver) SupportsBounds() bool { return d.bounded }

// Solve runs the damped Gauss-Newton iteration until a tolerance in
// Settings is met or the budget is spent.
func (d *dampedSolver) Solve(ctx context.Context, prob Problem, s Settings) (*Solution, error) {
	if err := prob.validate(); err != nil {
		return nil, err
	}
	if !d.bounded && prob.Bounded() {
		return nil, errs.Invalid("method", "%q only works for unconstrained problems", d.name)
	}

	n, m := len(prob.X0), prob.M
	s = s.withDefaults(n)
	lower, upper := prob.box()

	x := make([]float64, n)
	for i, v := range prob.X0 {
		x[i] = clamp(v, lower[i], upper[i])
	}

	jac := prob.Jacobian
	if jac == nil {
		jac = NumericJacobian(prob.Residuals)
	}

	r := make([]float64, m)
	prob.Residuals(r, x)
	if !allFinite(r) {
		return nil, errs.Invalid("x0", "residuals are not finite at the initial point")
	}

	j := mat.NewDense(m, n, nil)
	jac(j, x)
	a := mat.NewSymDense(n, nil)
	g := make([]float64, n)
	normalEquations(a, g, j, r)

	sol := &Solution{FuncEvals: 1}
	cost := 0.5 * floats.Dot(r, r)

	scale := make([]float64, n)
	updateScale(scale, a)
	mu := d.tau
	nu := 2.0

	tc := DefaultConvergenceConfig()
	tc.Threshold = s.FTol
	tracker := NewConvergenceTracker(tc)
	tracker.Update(cost)

	rTrial := make([]float64, m)
	xTrial := make([]float64, n)
	step := make([]float64, n)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if projectedGradientNorm(x, g, lower, upper) <= s.GTol {
			sol.Converged, sol.Message = true, "gradient tolerance satisfied"
			break
		}
		if sol.Iterations >= s.MaxIterations {
			sol.Message = "maximum number of iterations exceeded"
			break
		}
		if sol.FuncEvals >= s.MaxFuncEvals {
			sol.Message = "maximum number of function evaluations exceeded"
			break
		}
		sol.Iterations++

		h, ok := dampedStep(a, g, scale, freeSet(x, g, lower, upper), mu)
		if !ok {
			mu *= nu
			nu *= 2
			continue
		}

		for i := range x {
			xTrial[i] = clamp(x[i]+h[i], lower[i], upper[i])
			step[i] = xTrial[i] - x[i]
		}
		if floats.Norm(step, 2) <= s.XTol*(floats.Norm(x, 2)+s.XTol) {
			sol.Converged, sol.Message = true, "step tolerance satisfied"
			break
		}

		prob.Residuals(rTrial, xTrial)
		sol.FuncEvals++
		trialCost := 0.5 * floats.Dot(rTrial, rTrial)

		sv := mat.NewVecDense(n, step)
		predicted := -(floats.Dot(g, step) + 0.5*mat.Inner(sv, a, sv))

		if isFinite(trialCost) && predicted > 0 && trialCost < cost {
			rho := (cost - trialCost) / predicted
			x, xTrial = xTrial, x
			r, rTrial = rTrial, r
			jac(j, x)
			normalEquations(a, g, j, r)
			updateScale(scale, a)

			stalled := tracker.Update(trialCost)
			cost = trialCost
			mu *= math.Max(1.0/3, 1-math.Pow(2*rho-1, 3))
			nu = 2

			if cost == 0 || stalled {
				sol.Converged, sol.Message = true, "function tolerance satisfied"
				break
			}
		} else {
			mu *= nu
			nu *= 2
		}
	}

	sol.X = x
	sol.Residuals = r
	sol.Jacobian = j
	sol.Cost = cost

	slog.Debug("Least-squares solve finished",
		"method", d.name,
		"converged", sol.Converged,
		"message", sol.Message,
		"iterations", sol.Iterations,
		"evaluations", sol.FuncEvals,
		"cost", 2*cost,
	)
	return sol, nil
}

// freeSet marks the parameters that may move: not pinned and not held at a
// bound by a gradient pointing outward.
func freeSet(x, g, lower, upper []float64) []bool {
	free := make([]bool, len(x))
	for i := range x {
		switch {
		case lower[i] >= upper[i]:
		case x[i] <= lower[i] && g[i] > 0:
		case x[i] >= upper[i] && g[i] < 0:
		default:
			free[i] = true
		}
	}
	return free
}

// updateScale keeps scale at the running maximum of diag(A). Parameters
// the residuals do not depend on get unit scale.
func updateScale(scale []float64, a *mat.SymDense) {
	for i := range scale {
		scale[i] = math.Max(scale[i], a.At(i, i))
	}
	for i, v := range scale {
		if v == 0 {
			scale[i] = 1
		}
	}
}

// dampedStep solves (A_ff + μD_ff) h_f = -g_f over the free parameters.
func dampedStep(a *mat.SymDense, g, scale []float64, free []bool, mu float64) ([]float64, bool) {
	idx := make([]int, 0, len(g))
	for i, f := range free {
		if f {
			idx = append(idx, i)
		}
	}
	h := make([]float64, len(g))
	if len(idx) == 0 {
		return h, true
	}

	sys := mat.NewSymDense(len(idx), nil)
	rhs := mat.NewVecDense(len(idx), nil)
	for p, i := range idx {
		for q := p; q < len(idx); q++ {
			sys.SetSym(p, q, a.At(i, idx[q]))
		}
		sys.SetSym(p, p, sys.At(p, p)+mu*scale[i])
		rhs.SetVec(p, -g[i])
	}

	var chol mat.Cholesky
	if !chol.Factorize(sys) {
		return nil, false
	}
	var hv mat.VecDense
	if err := chol.SolveVecTo(&hv, rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, false
		}
	}
	for p, i := range idx {
		h[i] = hv.AtVec(p)
	}
	if !allFinite(h) {
		return nil, false
	}
	return h, true
}

// projectedGradientNorm is the infinity norm of x - clamp(x - g).
func projectedGradientNorm(x, g, lower, upper []float64) float64 {
	norm := 0.0
	for i := range x {
		norm = math.Max(norm, math.Abs(x[i]-clamp(x[i]-g[i], lower[i], upper[i])))
	}
	return norm
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if !isFinite(x) {
			return false
		}
	}
	return true
}
