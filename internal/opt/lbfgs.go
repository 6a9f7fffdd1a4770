package opt

import (
	"context"
	"log/slog"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/cwbudde/curvesearch/internal/errs"
)

// lbfgsSolver minimizes ½‖r‖² as a smooth objective with gonum's L-BFGS.
// It ignores the least-squares structure and cannot honor bounds.
type lbfgsSolver struct{}

// NewLBFGS returns the quasi-Newton solver.
func NewLBFGS() Solver {
	return lbfgsSolver{}
}

func (lbfgsSolver) Name() string         { return MethodLBFGS }
func (lbfgsSolver) SupportsBounds() bool { return false }

func (lbfgsSolver) Solve(ctx context.Context, prob Problem, s Settings) (*Solution, error) {
	if err := prob.validate(); err != nil {
		return nil, err
	}
	if prob.Bounded() {
		return nil, errs.Invalid("method", "%q only works for unconstrained problems", MethodLBFGS)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, m := len(prob.X0), prob.M
	s = s.withDefaults(n)

	jac := prob.Jacobian
	if jac == nil {
		jac = NumericJacobian(prob.Residuals)
	}

	r := make([]float64, m)
	prob.Residuals(r, prob.X0)
	if !allFinite(r) {
		return nil, errs.Invalid("x0", "residuals are not finite at the initial point")
	}

	j := mat.NewDense(m, n, nil)
	evals := 0
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			evals++
			prob.Residuals(r, x)
			return 0.5 * floats.Dot(r, r)
		},
		Grad: func(grad, x []float64) {
			prob.Residuals(r, x)
			jac(j, x)
			gv := mat.NewVecDense(n, grad)
			gv.MulVec(j.T(), mat.NewVecDense(m, r))
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   s.MaxIterations,
		FuncEvaluations:   s.MaxFuncEvals,
		GradientThreshold: s.GTol,
		Converger: &optimize.FunctionConverge{
			Relative:   s.FTol,
			Iterations: 10,
		},
	}

	x := append([]float64(nil), prob.X0...)
	sol := &Solution{}
	res, err := optimize.Minimize(problem, x, settings, &optimize.LBFGS{})
	if res != nil {
		x = res.X
		sol.Iterations = res.MajorIterations
		sol.Message = res.Status.String()
		switch res.Status {
		case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
			optimize.StepConvergence, optimize.FunctionThreshold:
			sol.Converged = true
		}
	}
	if err != nil {
		sol.Converged = false
		sol.Message = err.Error()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prob.Residuals(r, x)
	jac(j, x)
	sol.X = x
	sol.Residuals = r
	sol.Jacobian = j
	sol.Cost = 0.5 * floats.Dot(r, r)
	sol.FuncEvals = evals + 1

	slog.Debug("Least-squares solve finished",
		"method", MethodLBFGS,
		"converged", sol.Converged,
		"message", sol.Message,
		"iterations", sol.Iterations,
		"cost", 2*sol.Cost,
	)
	return sol, nil
}
